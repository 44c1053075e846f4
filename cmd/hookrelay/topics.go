package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/groblegark/hookrelay/internal/config"
	"github.com/groblegark/hookrelay/internal/genesys"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Resolve and print the topic set the relay would subscribe to",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var source genesys.TopicSource
		switch cfg.Transport {
		case "genesys":
			client := genesys.NewClient(cfg.Region, buildAuth(cfg))
			source, err = buildTopicSource(cfg, client, logger)
			if err != nil {
				return err
			}
		default:
			topics := cfg.Topics
			if len(topics) == 0 {
				topics = cfg.FallbackTopics
			}
			source = genesys.StaticTopics(topics)
		}

		topics, err := source.ListTopics(cmd.Context())
		if err != nil {
			return err
		}
		for _, topic := range topics {
			fmt.Println(topic)
		}
		return nil
	},
}
