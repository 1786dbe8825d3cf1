package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kingrea/vialflow/internal/config"
	"github.com/kingrea/vialflow/internal/faults"
)

func (c *cli) newSamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "samples",
		Short:   "Validate and list the sample registry",
		GroupID: GroupSetup,
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			samples, err := c.loadSamples(cfg)
			if err != nil {
				return err
			}
			t := newTable("ID", "VIAL", "SOLID", "MASS_MG", "LIQUID", "VOLUME_ML")
			for _, s := range samples.Samples() {
				t.Row(s.ID, strconv.Itoa(s.Vial), orDash(s.Solid), fmt.Sprintf("%g", s.MassMg), orDash(s.Liquid), fmt.Sprintf("%g", s.VolumeML))
			}
			fmt.Fprintln(c.stdout, t.Render())
			fmt.Fprintf(c.stdout, "%d sample(s), rack capacity %d\n", samples.Len(), samples.Capacity())
			return nil
		},
	}
}

func (c *cli) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "init",
		Short:   "Write a commented default config file",
		GroupID: GroupSetup,
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolvePath(c.flags.configPath)
			created, err := config.Init(path)
			if err != nil {
				return faults.New(faults.KindConfiguration, "init", err)
			}
			if !created {
				fmt.Fprintf(c.stdout, "%s already exists, left unchanged\n", path)
				return nil
			}
			fmt.Fprintf(c.stdout, "wrote %s\n", path)
			return nil
		},
	}
}
