package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/micro-nova/amplipi-pal/internal/config"
	"github.com/micro-nova/amplipi-pal/internal/hardware"
)

func cardsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cards",
		Short: "List sound cards and their PCM devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cards, err := hardware.Cards()
			if err != nil {
				return err
			}
			if len(cards) == 0 {
				fmt.Println("No sound cards found")
				return nil
			}
			for _, c := range cards {
				fmt.Print(c.String())
			}
			return nil
		},
	}
}

// resolveCard applies --card, a numeric index or a card name, to cfg.
func resolveCard(cfg *config.Config) error {
	name := cardName
	if name == "" {
		name = cfg.Card.Name
	}
	if name == "" {
		return nil
	}
	if n, err := strconv.ParseUint(name, 10, 32); err == nil {
		cfg.Card.Index = uint(n)
		return nil
	}
	idx, err := hardware.DetectCard(name)
	if err != nil {
		return err
	}
	cfg.Card.Index = idx
	return nil
}
