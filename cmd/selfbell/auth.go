package main

import (
	"fmt"
	"time"

	"backend-selfbell/internal/api"
	"backend-selfbell/internal/tokens"

	"github.com/spf13/cobra"
)

func newRegisterCmd(a *app) *cobra.Command {
	var req api.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and store its credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := a.env(cmd)
			resp, err := e.api.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := e.store.Save(tokens.FromResponse(resp, time.Now())); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", req.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password (required)")
	cmd.Flags().StringVar(&req.DisplayName, "name", "", "name shown to guardians (required)")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "contact phone number")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var req api.LoginRequest

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := a.env(cmd)
			resp, err := e.api.Login(cmd.Context(), req)
			if err != nil {
				return err
			}
			if err := e.store.Save(tokens.FromResponse(resp, time.Now())); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", req.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&req.Password, "password", "", "account password (required)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := a.env(cmd)
			if err := e.store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}
