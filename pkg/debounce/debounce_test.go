package debounce_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/medfit/pkg/debounce"
)

type recorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *recorder) fire(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, v)
}

func (r *recorder) values() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.fired...)
}

var _ = Describe("Debouncer", func() {
	const delay = 30 * time.Millisecond

	var rec *recorder

	BeforeEach(func() {
		rec = &recorder{}
	})

	It("delivers only the last of a burst of triggers", func() {
		d := debounce.New(delay, rec.fire)

		d.Trigger("d")
		d.Trigger("di")
		d.Trigger("dia")

		Eventually(rec.values).Should(Equal([]string{"dia"}))
		Consistently(rec.values, 3*delay).Should(Equal([]string{"dia"}))
		Expect(d.Pending()).To(BeFalse())
	})

	It("reports superseded values to the cancel hook", func() {
		var mu sync.Mutex
		var cancelled []string
		d := debounce.New(delay, rec.fire, debounce.WithCancelHook(func(v string) {
			mu.Lock()
			cancelled = append(cancelled, v)
			mu.Unlock()
		}))

		d.Trigger("a")
		d.Trigger("b")
		d.Trigger("c")

		Eventually(rec.values).Should(Equal([]string{"c"}))
		mu.Lock()
		Expect(cancelled).To(Equal([]string{"a", "b"}))
		mu.Unlock()
	})

	It("drops the pending value on Cancel", func() {
		d := debounce.New(delay, rec.fire)

		d.Trigger("x")
		Expect(d.Cancel()).To(BeTrue())
		Expect(d.Cancel()).To(BeFalse())

		Consistently(rec.values, 3*delay).Should(BeEmpty())
	})

	It("delivers the pending value at once on Flush", func() {
		d := debounce.New(time.Hour, rec.fire)

		d.Trigger("now")
		Expect(d.Flush()).To(BeTrue())

		Expect(rec.values()).To(Equal([]string{"now"}))
		Expect(d.Flush()).To(BeFalse())
	})

	It("ignores triggers after Stop", func() {
		d := debounce.New(delay, rec.fire)

		d.Trigger("before")
		d.Stop()
		d.Trigger("after")

		Consistently(rec.values, 3*delay).Should(BeEmpty())
		Expect(d.Pending()).To(BeFalse())
	})

	It("fires separately for triggers further apart than the delay", func() {
		d := debounce.New(delay, rec.fire)

		d.Trigger("one")
		Eventually(rec.values).Should(HaveLen(1))
		d.Trigger("two")

		Eventually(rec.values).Should(Equal([]string{"one", "two"}))
	})
})
