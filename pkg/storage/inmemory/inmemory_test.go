package inmemory_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/medfit/pkg/disease"
	"github.com/papercomputeco/medfit/pkg/storage/inmemory"
)

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *inmemory.Driver
	)

	epoch := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver(
			disease.Record{ID: "1", Name: "Migraine", CreatedAt: epoch},
			disease.Record{ID: "2", Name: "Malaria", CreatedAt: epoch.Add(time.Hour)},
		)
	})

	It("queries by term and sort", func() {
		got, err := driver.Query(ctx, disease.Criteria{Term: "MA", SortBy: disease.SortByCreatedAt, Direction: disease.Descending})

		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Name).To(Equal("Malaria"))
	})

	It("assigns an ID and creation time on insert", func() {
		rec, err := driver.Insert(ctx, disease.Record{Name: "Measles"})

		Expect(err).NotTo(HaveOccurred())
		Expect(rec.ID).NotTo(BeEmpty())
		Expect(rec.CreatedAt).NotTo(BeZero())
		Expect(driver.Len()).To(Equal(3))
	})

	It("replaces a record with the same ID", func() {
		_, err := driver.Insert(ctx, disease.Record{ID: "1", Name: "Migraine", Treatment: "Triptans", CreatedAt: epoch})
		Expect(err).NotTo(HaveOccurred())

		got, _ := driver.Query(ctx, disease.Criteria{Term: "migraine"})
		Expect(driver.Len()).To(Equal(2))
		Expect(got[0].Treatment).To(Equal("Triptans"))
	})

	It("rejects invalid criteria", func() {
		_, err := driver.Query(ctx, disease.Criteria{Direction: "sideways"})

		Expect(err).To(MatchError(disease.ErrInvalidDirection))
	})

	It("honors a cancelled context", func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := driver.Query(cctx, disease.DefaultCriteria())
		Expect(err).To(MatchError(context.Canceled))
	})
})
