package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newGuardiansCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guardians",
		Short: "Manage who is notified of your safe walks",
	}
	cmd.AddCommand(newGuardiansListCmd(a))
	cmd.AddCommand(newGuardiansAddCmd(a))
	return cmd
}

func newGuardiansListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your guardians",
		RunE: func(cmd *cobra.Command, args []string) error {
			guardians, err := a.env(cmd).api.Guardians(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(guardians) == 0 {
				fmt.Fprintln(out, "No guardians yet")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, g := range guardians {
				fmt.Fprintf(w, "%d\t%s\n", g.ID, g.Name)
			}
			return w.Flush()
		},
	}
}

func newGuardiansAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <user-id>",
		Short: "Add a guardian by user id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			g, err := a.env(cmd).api.AddGuardian(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added guardian %d (%s)\n", g.ID, g.Name)
			return nil
		},
	}
}
