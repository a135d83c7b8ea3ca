package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/medfit/pkg/config"
	"github.com/papercomputeco/medfit/pkg/generate"
)

const sampleConfig = `
[server]
listen = ":9000"
mcp = true

[generation]
provider = "ollama"
model = "llama3.2"
base_url = "http://ollama:11434"
temperature = 0.2
timeout = "30s"

[generation.safety]
dangerous_content = "BLOCK_ONLY_HIGH"

[retry]
max_attempts = 5
base_delay = "250ms"

[store]
driver = "sqlite"
dsn = "/var/lib/medfit/medfit.db"

[[auth.users]]
email = "doc@medfit.test"
token = "tok-doc"
`

var _ = Describe("Config", func() {
	var (
		tmpDir string
		path   string
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "medfit-config-test-*")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(tmpDir, "medfit.toml")
		Expect(os.WriteFile(path, []byte(sampleConfig), 0o600)).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("Default", func() {
		It("carries the documented generation defaults", func() {
			cfg := config.Default()

			Expect(cfg.Generation.Provider).To(Equal(config.ProviderGemini))
			Expect(cfg.Generation.Model).To(Equal("gemini-1.5-flash"))
			Expect(cfg.Generation.Temperature).To(BeNumerically("~", 0.7, 1e-6))
			Expect(cfg.Generation.TopK).To(Equal(40))
			Expect(cfg.Generation.TopP).To(BeNumerically("~", 0.95, 1e-6))
			Expect(cfg.Generation.MaxOutputTokens).To(Equal(1024))
			Expect(cfg.Retry.MaxAttempts).To(Equal(3))
			Expect(cfg.Retry.BaseDelay).To(Equal(time.Second))
			Expect(cfg.Search.Debounce).To(Equal(300 * time.Millisecond))
		})

		It("blocks medium and above in every harm category", func() {
			s := config.Default().GenerationSettings()

			Expect(s.Safety).To(HaveLen(len(generate.HarmCategories)))
			for _, c := range generate.HarmCategories {
				Expect(s.Safety[c]).To(Equal(generate.BlockMediumAndAbove))
			}
		})
	})

	Describe("Load", func() {
		It("reads the file over the defaults", func() {
			cfg, err := config.Load(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Path).To(Equal(path))
			Expect(cfg.Server.ListenAddr).To(Equal(":9000"))
			Expect(cfg.Server.MCP).To(BeTrue())
			Expect(cfg.Generation.Provider).To(Equal(config.ProviderOllama))
			Expect(cfg.Generation.Model).To(Equal("llama3.2"))
			Expect(cfg.Generation.Timeout).To(Equal(30 * time.Second))
			Expect(cfg.Generation.TopK).To(Equal(40))
			Expect(cfg.Generation.Safety.DangerousContent).To(Equal("BLOCK_ONLY_HIGH"))
			Expect(cfg.Generation.Safety.Harassment).To(Equal("BLOCK_MEDIUM_AND_ABOVE"))
			Expect(cfg.Retry.MaxAttempts).To(Equal(5))
			Expect(cfg.Retry.BaseDelay).To(Equal(250 * time.Millisecond))
			Expect(cfg.Store.DSN).To(Equal("/var/lib/medfit/medfit.db"))
			Expect(cfg.Auth.Users).To(HaveLen(1))
			Expect(cfg.Auth.Users[0].Token).To(Equal("tok-doc"))
		})

		It("lets environment variables override the file", func() {
			GinkgoT().Setenv("MEDFIT_LISTEN", ":7000")
			GinkgoT().Setenv("MEDFIT_RETRY_ATTEMPTS", "2")
			GinkgoT().Setenv("MEDFIT_MODEL", "gemini-2.0-flash")

			cfg, err := config.Load(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.ListenAddr).To(Equal(":7000"))
			Expect(cfg.Retry.MaxAttempts).To(Equal(2))
			Expect(cfg.Generation.Model).To(Equal("gemini-2.0-flash"))
		})

		It("falls back to MEDFIT_CONFIG", func() {
			GinkgoT().Setenv(config.EnvConfigPath, path)

			cfg, err := config.Load("")

			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.ListenAddr).To(Equal(":9000"))
		})

		It("uses the defaults without a file", func() {
			GinkgoT().Setenv(config.EnvConfigPath, "")

			cfg, err := config.Load("")

			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Path).To(BeEmpty())
			Expect(cfg.Server.ListenAddr).To(Equal(":8080"))
		})

		It("reports every invalid value", func() {
			bad := filepath.Join(tmpDir, "bad.toml")
			Expect(os.WriteFile(bad, []byte(`
[generation]
provider = "openai"
max_output_tokens = 0

[generation.safety]
harassment = "BLOCK_SOME"

[retry]
max_attempts = 0
`), 0o600)).To(Succeed())

			_, err := config.Load(bad)

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring(`unknown generation provider "openai"`))
			Expect(err.Error()).To(ContainSubstring("max_output_tokens"))
			Expect(err.Error()).To(ContainSubstring("max_attempts"))
			Expect(err.Error()).To(ContainSubstring("BLOCK_SOME"))
		})

		It("fails on malformed TOML", func() {
			bad := filepath.Join(tmpDir, "broken.toml")
			Expect(os.WriteFile(bad, []byte("[server\nlisten = "), 0o600)).To(Succeed())

			_, err := config.Load(bad)
			Expect(err).To(MatchError(ContainSubstring("decode config")))
		})
	})

	Describe("LoadUsers", func() {
		It("reads only the auth users", func() {
			users, err := config.LoadUsers(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(1))
			Expect(users[0].Email).To(Equal("doc@medfit.test"))
		})
	})

	Describe("RetryPolicy", func() {
		It("doubles the configured base delay", func() {
			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())

			p := cfg.RetryPolicy()
			Expect(p.MaxAttempts).To(Equal(5))
			b := p.Backoff()
			Expect(b.NextBackOff()).To(Equal(250 * time.Millisecond))
			Expect(b.NextBackOff()).To(Equal(500 * time.Millisecond))
		})
	})
})
