package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted client name, location, and joined workspace",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := cliContextFrom(cmd.Context())
	if cc == nil {
		return fmt.Errorf("no configuration loaded")
	}

	name := cc.Config.ClientName
	location := cc.Config.Location
	if location == "" {
		location = "(not set)"
	}
	storageID := cc.Config.StorageID
	if storageID == "" {
		storageID = "(not joined)"
	}

	fmt.Printf("client name:  %s\n", name)
	fmt.Printf("location:     %s\n", location)
	fmt.Printf("workspace:    %s\n", storageID)
	fmt.Printf("server:       %s\n", cc.Server)

	return nil
}
