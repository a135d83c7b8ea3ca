package disease_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/medfit/pkg/disease"
)

var _ = Describe("Disease", func() {
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	records := []disease.Record{
		{ID: "c", Name: "Hypertension", CreatedAt: epoch.Add(1 * time.Hour)},
		{ID: "a", Name: "Diabetes Type 2", CreatedAt: epoch.Add(3 * time.Hour)},
		{ID: "b", Name: "Diabetes Type 1", CreatedAt: epoch.Add(2 * time.Hour)},
		{ID: "d", Name: "Asthma", CreatedAt: epoch},
	}

	names := func(rs []disease.Record) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.Name
		}
		return out
	}

	Describe("Filter", func() {
		It("matches the term as a case-insensitive substring of the name", func() {
			got := disease.Filter(records, disease.Criteria{Term: "diabet"})

			Expect(names(got)).To(Equal([]string{"Diabetes Type 1", "Diabetes Type 2"}))
		})

		It("matches every record for an empty term", func() {
			got := disease.Filter(records, disease.DefaultCriteria())

			Expect(got).To(HaveLen(4))
			Expect(names(got)).To(Equal([]string{"Asthma", "Diabetes Type 1", "Diabetes Type 2", "Hypertension"}))
		})

		It("returns an empty slice when nothing matches", func() {
			got := disease.Filter(records, disease.Criteria{Term: "zzz"})

			Expect(got).NotTo(BeNil())
			Expect(got).To(BeEmpty())
		})

		It("orders by creation time", func() {
			got := disease.Filter(records, disease.Criteria{SortBy: disease.SortByCreatedAt})

			Expect(names(got)).To(Equal([]string{"Asthma", "Hypertension", "Diabetes Type 1", "Diabetes Type 2"}))
		})

		It("reverses the order for descending criteria", func() {
			asc := disease.Filter(records, disease.Criteria{SortBy: disease.SortByName, Direction: disease.Ascending})
			desc := disease.Filter(records, disease.Criteria{SortBy: disease.SortByName, Direction: disease.Descending})

			reversed := make([]string, len(asc))
			for i, n := range names(asc) {
				reversed[len(asc)-1-i] = n
			}
			Expect(names(desc)).To(Equal(reversed))
		})

		It("breaks ties by ID", func() {
			tied := []disease.Record{
				{ID: "2", Name: "Flu"},
				{ID: "1", Name: "Flu"},
			}

			got := disease.Filter(tied, disease.Criteria{Direction: disease.Descending})

			Expect(got[0].ID).To(Equal("1"))
			Expect(got[1].ID).To(Equal("2"))
		})

		It("does not modify its input", func() {
			in := append([]disease.Record{}, records...)
			disease.Filter(in, disease.Criteria{Direction: disease.Descending})

			Expect(in).To(Equal(records))
		})
	})

	Describe("Criteria", func() {
		It("normalizes zero values to name ascending and trims the term", func() {
			c := disease.Criteria{Term: "  flu "}.Normalize()

			Expect(c).To(Equal(disease.Criteria{Term: "flu", SortBy: disease.SortByName, Direction: disease.Ascending}))
		})

		It("rejects unknown sort keys and directions", func() {
			Expect(disease.Criteria{SortBy: "severity", Direction: disease.Ascending}.Validate()).
				To(MatchError(disease.ErrInvalidSortKey))
			Expect(disease.Criteria{SortBy: disease.SortByName, Direction: "up"}.Validate()).
				To(MatchError(disease.ErrInvalidDirection))
		})
	})

	Describe("ParseSortKey and ParseDirection", func() {
		It("accepts known values in any case", func() {
			k, err := disease.ParseSortKey(" Created_At ")
			Expect(err).NotTo(HaveOccurred())
			Expect(k).To(Equal(disease.SortByCreatedAt))

			d, err := disease.ParseDirection("DESC")
			Expect(err).NotTo(HaveOccurred())
			Expect(d).To(Equal(disease.Descending))
		})

		It("defaults empty input", func() {
			k, _ := disease.ParseSortKey("")
			d, _ := disease.ParseDirection("")

			Expect(k).To(Equal(disease.SortByName))
			Expect(d).To(Equal(disease.Ascending))
		})
	})

	Describe("Labels", func() {
		It("names sort keys and directions for display", func() {
			Expect(disease.SortByName.Label()).To(Equal("Name"))
			Expect(disease.SortByCreatedAt.Label()).To(Equal("Date Added"))
			Expect(disease.Ascending.Label()).To(Equal("Ascending"))
			Expect(disease.Descending.Label()).To(Equal("Descending"))
		})
	})

	Describe("LikePattern", func() {
		It("wraps the term in wildcards", func() {
			Expect(disease.LikePattern("flu")).To(Equal("%flu%"))
		})

		It("escapes LIKE metacharacters", func() {
			Expect(disease.LikePattern(`50%_a\b`)).To(Equal(`%50\%\_a\\b%`))
		})
	})
})
