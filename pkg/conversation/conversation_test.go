package conversation_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/medfit/pkg/conversation"
	"github.com/papercomputeco/medfit/pkg/generate"
	"github.com/papercomputeco/medfit/pkg/retry"
)

// scriptedGenerator returns its results in order and records the prompts it saw.
type scriptedGenerator struct {
	mu      sync.Mutex
	results []result
	prompts []string
}

type result struct {
	text string
	err  error
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (generate.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if len(g.results) == 0 {
		return generate.Response{}, errors.New("script exhausted")
	}
	r := g.results[0]
	g.results = g.results[1:]
	return generate.Response{Text: r.text}, r.err
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

var _ = Describe("Conversation", func() {
	var (
		ctx   context.Context
		waits []time.Duration
		mu    sync.Mutex
	)

	fakeSleep := func(_ context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return nil
	}

	policy := func() retry.Policy {
		p := retry.DefaultPolicy()
		p.Sleep = fakeSleep
		return p
	}

	BeforeEach(func() {
		ctx = context.Background()
		mu.Lock()
		waits = nil
		mu.Unlock()
	})

	It("starts with the greeting", func() {
		conv := conversation.New(&scriptedGenerator{})

		turns := conv.Transcript()
		Expect(turns).To(HaveLen(1))
		Expect(turns[0].Role).To(Equal(conversation.RoleAssistant))
		Expect(turns[0].Content).To(Equal(conversation.Greeting))
		Expect(conv.IsAwaitingResponse()).To(BeFalse())
	})

	It("appends the user turn and then the assistant reply", func() {
		gen := &scriptedGenerator{results: []result{{text: "Diabetes is a metabolic disease."}}}
		conv := conversation.New(gen, conversation.WithRetryPolicy(policy()))

		reply, err := conv.Ask(ctx, "  What is diabetes?  ")

		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Content).To(Equal("Diabetes is a metabolic disease."))
		Expect(reply.Failed).To(BeFalse())

		turns := conv.Transcript()
		Expect(turns).To(HaveLen(3))
		Expect(turns[1].Role).To(Equal(conversation.RoleUser))
		Expect(turns[1].Content).To(Equal("What is diabetes?"))
		Expect(turns[2].Role).To(Equal(conversation.RoleAssistant))
		Expect(conv.IsAwaitingResponse()).To(BeFalse())
	})

	It("wraps the question in the medical prompt", func() {
		gen := &scriptedGenerator{results: []result{{text: "ok"}}}
		conv := conversation.New(gen)

		_, err := conv.Ask(ctx, "What is asthma?")
		Expect(err).NotTo(HaveOccurred())

		Expect(gen.prompts).To(HaveLen(1))
		Expect(gen.prompts[0]).To(HavePrefix("You are a medical assistant for MedFit."))
		Expect(gen.prompts[0]).To(ContainSubstring("Current question: What is asthma?"))
		Expect(gen.prompts[0]).To(HaveSuffix("suggest consulting a healthcare professional."))
	})

	It("rejects blank input without touching the transcript", func() {
		gen := &scriptedGenerator{}
		conv := conversation.New(gen)

		_, err := conv.Submit(ctx, " \t\n")

		Expect(err).To(MatchError(conversation.ErrEmptyInput))
		Expect(conv.Len()).To(Equal(1))
		Expect(gen.calls()).To(Equal(0))
	})

	It("rejects a submission while a reply is pending", func() {
		release := make(chan struct{})
		gen := generate.GeneratorFunc(func(context.Context, string) (generate.Response, error) {
			<-release
			return generate.Response{Text: "first answer"}, nil
		})
		conv := conversation.New(gen)

		done, err := conv.Submit(ctx, "first")
		Expect(err).NotTo(HaveOccurred())
		Expect(conv.IsAwaitingResponse()).To(BeTrue())

		_, err = conv.Submit(ctx, "second")
		Expect(err).To(MatchError(conversation.ErrAwaitingResponse))
		Expect(conv.Len()).To(Equal(2))

		close(release)
		Eventually(done).Should(Receive(HaveField("Content", "first answer")))
		Expect(conv.IsAwaitingResponse()).To(BeFalse())
		Expect(conv.Len()).To(Equal(3))
	})

	It("retries with 1s and 2s backoff before succeeding", func() {
		gen := &scriptedGenerator{results: []result{
			{err: errors.New("unavailable")},
			{err: errors.New("unavailable")},
			{text: "third time lucky"},
		}}
		conv := conversation.New(gen, conversation.WithRetryPolicy(policy()))

		reply, err := conv.Ask(ctx, "hello")

		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Content).To(Equal("third time lucky"))
		Expect(gen.calls()).To(Equal(3))
		Expect(waits).To(Equal([]time.Duration{time.Second, 2 * time.Second}))
		Expect(conv.Len()).To(Equal(3))
	})

	It("treats an empty generation as a failed attempt", func() {
		gen := &scriptedGenerator{results: []result{{text: ""}, {text: "filled"}}}
		conv := conversation.New(gen, conversation.WithRetryPolicy(policy()))

		reply, err := conv.Ask(ctx, "hello")

		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Content).To(Equal("filled"))
		Expect(gen.calls()).To(Equal(2))
	})

	It("appends exactly one diagnostic turn when every attempt fails", func() {
		gen := &scriptedGenerator{results: []result{
			{err: errors.New("boom")}, {err: errors.New("boom")}, {err: errors.New("boom")},
		}}
		conv := conversation.New(gen, conversation.WithRetryPolicy(policy()))

		reply, err := conv.Ask(ctx, "hello")

		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Failed).To(BeTrue())
		Expect(reply.Content).To(HavePrefix("I apologize, but I encountered an error processing your request."))
		Expect(reply.Content).To(ContainSubstring("try asking your question again"))
		Expect(conv.Len()).To(Equal(3))
		Expect(conv.IsAwaitingResponse()).To(BeFalse())
	})

	It("explains quota failures as rate limits", func() {
		gen := generate.GeneratorFunc(func(context.Context, string) (generate.Response, error) {
			return generate.Response{}, errors.New("Quota exceeded for requests per minute")
		})
		conv := conversation.New(gen, conversation.WithRetryPolicy(policy()))

		reply, _ := conv.Ask(ctx, "hello")

		Expect(reply.Content).To(ContainSubstring("API rate limit for the free tier"))
	})

	It("explains 403 responses as permission problems", func() {
		gen := generate.GeneratorFunc(func(context.Context, string) (generate.Response, error) {
			return generate.Response{}, &generate.StatusError{Code: 403}
		})
		conv := conversation.New(gen, conversation.WithRetryPolicy(policy()))

		reply, _ := conv.Ask(ctx, "hello")

		Expect(reply.Content).To(ContainSubstring("API access permissions"))
	})

	It("turns a generator panic into a diagnostic turn", func() {
		gen := generate.GeneratorFunc(func(context.Context, string) (generate.Response, error) {
			panic("nil map")
		})
		conv := conversation.New(gen, conversation.WithRetryPolicy(retry.Policy{MaxAttempts: 1}))

		reply, err := conv.Ask(ctx, "hello")

		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Failed).To(BeTrue())
		Expect(conv.IsAwaitingResponse()).To(BeFalse())
	})

	It("notifies observers of both appended turns", func() {
		var seen []conversation.Role
		var omu sync.Mutex
		gen := &scriptedGenerator{results: []result{{text: "ok"}}}
		conv := conversation.New(gen, conversation.WithObserver(func(t conversation.Turn) {
			omu.Lock()
			seen = append(seen, t.Role)
			omu.Unlock()
		}))

		_, err := conv.Ask(ctx, "hi")
		Expect(err).NotTo(HaveOccurred())

		omu.Lock()
		defer omu.Unlock()
		Expect(seen).To(Equal([]conversation.Role{conversation.RoleUser, conversation.RoleAssistant}))
	})

	It("returns copies of the transcript", func() {
		conv := conversation.New(&scriptedGenerator{})

		turns := conv.Transcript()
		turns[0].Content = "changed"

		Expect(conv.Transcript()[0].Content).To(Equal(conversation.Greeting))
	})
})

var _ = Describe("Classify", func() {
	DescribeTable("classifies failures",
		func(err error, kind conversation.FailureKind) {
			Expect(conversation.Classify(err)).To(Equal(kind))
		},
		Entry("429 status", &generate.StatusError{Code: 429}, conversation.FailureRateLimit),
		Entry("401 status", &generate.StatusError{Code: 401}, conversation.FailurePermission),
		Entry("quota wording", errors.New("QUOTA exhausted"), conversation.FailureRateLimit),
		Entry("rate limit wording", errors.New("hit rate limit"), conversation.FailureRateLimit),
		Entry("permission wording", errors.New("Permission denied"), conversation.FailurePermission),
		Entry("access wording", errors.New("access revoked"), conversation.FailurePermission),
		Entry("anything else", errors.New("connection reset"), conversation.FailureUnknown),
		Entry("wrapped status", &retry.ExhaustedError{Attempts: 3, Err: &generate.StatusError{Code: 429}}, conversation.FailureRateLimit),
	)

	It("prefers the status code over the message", func() {
		err := &generate.StatusError{Code: 429, Message: "permission check failed"}
		Expect(conversation.Classify(err)).To(Equal(conversation.FailureRateLimit))
		Expect(strings.HasPrefix(conversation.Diagnostic(err), "I apologize")).To(BeTrue())
	})
})
