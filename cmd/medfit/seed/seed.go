package seedcmder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/medfit/cmd/medfit/deps"
	"github.com/papercomputeco/medfit/pkg/disease"
	"github.com/papercomputeco/medfit/pkg/storage"
)

const seedLongDesc string = `Load disease records from TOML files into the configured store.

Each file holds a [[disease]] array of tables. Records with an id that
already exists replace the stored record; records without an id get a
new one. A missing created_at is set to the time of insertion.

Example file:
  [[disease]]
  name = "Influenza"
  diagnosis = "Rapid antigen test or RT-PCR"
  treatment = "Rest, fluids and antivirals when started early"

Examples:
  medfit seed diseases.toml
  medfit seed --config prod.toml catalog/*.toml`

const seedShortDesc string = "Load disease records into the store"

type seedCommander struct{}

// catalogFile is the layout of a seed file.
type catalogFile struct {
	Disease []catalogEntry `toml:"disease"`
}

type catalogEntry struct {
	ID        string    `toml:"id"`
	Name      string    `toml:"name"`
	Diagnosis string    `toml:"diagnosis"`
	Treatment string    `toml:"treatment"`
	CreatedAt time.Time `toml:"created_at"`
}

func NewSeedCmd() *cobra.Command {
	cmder := &seedCommander{}

	return &cobra.Command{
		Use:   "seed <files...>",
		Short: seedShortDesc,
		Long:  seedLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}
}

func (c *seedCommander) run(ctx context.Context, cmd *cobra.Command, files []string) error {
	cfg, err := deps.LoadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Store.Driver == storage.DriverMemory || cfg.Store.Driver == "" {
		return fmt.Errorf("seeding the %s store has no lasting effect; configure sqlite or postgres", storage.DriverMemory)
	}

	logger, closer, err := deps.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	defer logger.Sync()

	store, err := deps.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var total int
	for _, path := range files {
		records, err := LoadCatalog(path)
		if err != nil {
			return err
		}

		n, err := Insert(ctx, store, records)
		if err != nil {
			return fmt.Errorf("could not seed %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d diseases from %s\n", n, path)
		total += n
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d diseases into the %s store\n", total, cfg.Store.Driver)
	return nil
}

// LoadCatalog reads the [[disease]] records of a seed file.
func LoadCatalog(path string) ([]disease.Record, error) {
	var file catalogFile
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("could not decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	records := make([]disease.Record, 0, len(file.Disease))
	for i, e := range file.Disease {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("%s: disease %d has no name", path, i+1)
		}
		records = append(records, disease.Record{
			ID:        e.ID,
			Name:      strings.TrimSpace(e.Name),
			Diagnosis: strings.TrimSpace(e.Diagnosis),
			Treatment: strings.TrimSpace(e.Treatment),
			CreatedAt: e.CreatedAt,
		})
	}
	return records, nil
}

// Insert writes records to w in order and returns how many were written.
func Insert(ctx context.Context, w disease.Writer, records []disease.Record) (int, error) {
	for i, r := range records {
		if _, err := w.Insert(ctx, r); err != nil {
			return i, fmt.Errorf("could not insert %q: %w", r.Name, err)
		}
	}
	return len(records), nil
}
