package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/James-May-Coding/myrail-network/internal/community"
	"github.com/James-May-Coding/myrail-network/internal/config"
	"github.com/James-May-Coding/myrail-network/internal/train"
	"github.com/James-May-Coding/myrail-network/internal/user"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo community with trains",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func strPtr(s string) *string { return &s }

var demoTrains = []train.CreateTrainInput{
	{
		Code:        "CSX-Q410",
		Description: strPtr("Manifest freight, Selkirk to Baltimore."),
		Direction:   strPtr("southbound"),
		Yard:        strPtr("Selkirk"),
	},
	{
		Code:        "NS-21M",
		Description: strPtr("Intermodal, Croxton to Chicago."),
		Direction:   strPtr("westbound"),
		Yard:        strPtr("Croxton"),
	},
	{
		Code:        "AMTK-49",
		Description: strPtr("Lake Shore Limited, New York to Chicago."),
		Direction:   strPtr("westbound"),
		Yard:        strPtr("Sunnyside"),
	},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	userStore := user.NewStore(pool, cfg.Session.TTL)
	communityService := community.NewService(community.NewStore(pool), nil)
	trainService := train.NewService(train.NewStore(pool), communityService, nil)

	owner, err := userStore.Resolve(ctx, user.ResolveInput{
		DiscordID: "000000000000000000",
		Username:  "dispatcher",
	})
	if err != nil {
		return err
	}
	slog.Info("seeded demo user", "id", owner.ID, "username", owner.Username)

	c, err := communityService.CreateCommunity(ctx, owner.ID, "Yard Nine", nil)
	if err != nil {
		return err
	}
	slog.Info("seeded community", "id", c.ID, "name", c.Name, "join_code", c.JoinCode)

	for _, in := range demoTrains {
		t, err := trainService.CreateTrain(ctx, owner.ID, c.ID, in)
		if err != nil {
			return err
		}
		slog.Info("seeded train", "id", t.ID, "code", t.Code)
	}

	fmt.Printf("\nDemo community ready. Join code: %s\n", c.JoinCode)
	return nil
}
