package retry_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/medfit/pkg/retry"
)

var _ = Describe("Do", func() {
	var (
		ctx    context.Context
		waits  []time.Duration
		policy retry.Policy
	)

	BeforeEach(func() {
		ctx = context.Background()
		waits = nil
		policy = retry.DefaultPolicy()
		policy.Sleep = func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}
	})

	It("returns the first success without waiting", func() {
		v, err := retry.Do(ctx, policy, func(context.Context, int) (string, error) {
			return "ok", nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("ok"))
		Expect(waits).To(BeEmpty())
	})

	It("waits 1s then 2s before succeeding on the third attempt", func() {
		var attempts []int
		v, err := retry.Do(ctx, policy, func(_ context.Context, attempt int) (int, error) {
			attempts = append(attempts, attempt)
			if attempt < 3 {
				return 0, errors.New("unavailable")
			}
			return 42, nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(42))
		Expect(attempts).To(Equal([]int{1, 2, 3}))
		Expect(waits).To(Equal([]time.Duration{time.Second, 2 * time.Second}))
	})

	It("gives up after the last attempt without a trailing wait", func() {
		boom := errors.New("boom")
		calls := 0
		_, err := retry.Do(ctx, policy, func(context.Context, int) (struct{}, error) {
			calls++
			return struct{}{}, boom
		})

		var exhausted *retry.ExhaustedError
		Expect(errors.As(err, &exhausted)).To(BeTrue())
		Expect(exhausted.Attempts).To(Equal(3))
		Expect(err).To(MatchError(boom))
		Expect(calls).To(Equal(3))
		Expect(waits).To(HaveLen(2))
	})

	It("treats MaxAttempts below one as a single attempt", func() {
		calls := 0
		_, err := retry.Do(ctx, retry.Policy{}, func(context.Context, int) (int, error) {
			calls++
			return 0, errors.New("nope")
		})

		Expect(err).To(HaveOccurred())
		Expect(calls).To(Equal(1))
	})

	It("notifies after every attempt", func() {
		type note struct {
			attempt int
			failed  bool
			wait    time.Duration
		}
		var notes []note
		policy.Notify = func(attempt int, err error, wait time.Duration) {
			notes = append(notes, note{attempt, err != nil, wait})
		}

		_, _ = retry.Do(ctx, policy, func(_ context.Context, attempt int) (int, error) {
			if attempt == 1 {
				return 0, errors.New("once")
			}
			return 1, nil
		})

		Expect(notes).To(Equal([]note{{1, true, time.Second}, {2, false, 0}}))
	})

	It("stops when the context ends during a wait", func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		policy.Sleep = retry.Sleep
		last := errors.New("flaky")

		_, err := retry.Do(cctx, policy, func(context.Context, int) (int, error) {
			return 0, last
		})

		Expect(err).To(MatchError(context.Canceled))
		Expect(err).To(MatchError(last))
	})

	It("keeps waiting the full capped interval with many attempts", func() {
		policy.MaxAttempts = 80

		_, err := retry.Do(ctx, policy, func(context.Context, int) (int, error) {
			return 0, errors.New("down")
		})

		Expect(err).To(HaveOccurred())
		Expect(waits).To(HaveLen(79))
		for _, w := range waits {
			Expect(w).To(BeNumerically(">", 0))
			Expect(w).To(BeNumerically("<=", retry.MaxWait))
		}
		Expect(waits[len(waits)-1]).To(Equal(retry.MaxWait))
	})

	Describe("Exponential", func() {
		It("doubles the base for each attempt without jitter", func() {
			b := retry.Exponential(time.Second)()

			Expect(b.NextBackOff()).To(Equal(time.Second))
			Expect(b.NextBackOff()).To(Equal(2 * time.Second))
			Expect(b.NextBackOff()).To(Equal(4 * time.Second))
		})

		It("caps the wait instead of overflowing", func() {
			b := retry.Exponential(time.Second)()

			var last time.Duration
			for range 200 {
				last = b.NextBackOff()
				Expect(last).To(BeNumerically(">", 0))
			}
			Expect(last).To(Equal(retry.MaxWait))
		})

		It("gives every call a fresh schedule", func() {
			newSchedule := retry.Exponential(500 * time.Millisecond)
			first := newSchedule()
			first.NextBackOff()
			first.NextBackOff()

			Expect(newSchedule().NextBackOff()).To(Equal(500 * time.Millisecond))
		})
	})
})
