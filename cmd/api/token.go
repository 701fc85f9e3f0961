package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callbridge/internal/auth"
	"callbridge/internal/config"
	"callbridge/internal/rbac"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var user, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT pair for the REST API",
		Long:  "Prints an access and refresh token signed with JWT_SECRET. Roles: staff, admin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, user, role)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user id to embed in the token")
	cmd.Flags().StringVar(&role, "role", rbac.RoleStaff, "role: staff or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runToken(cmd *cobra.Command, user, role string) error {
	if !rbac.Valid(role) {
		return fmt.Errorf("unknown role %q (want %s or %s)", role, rbac.RoleStaff, rbac.RoleAdmin)
	}

	cfg, err := config.LoadTooling()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.AuthEnabled() {
		return errors.New("JWT_SECRET is not set; the REST API is open and needs no token")
	}

	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}
	pair, err := m.IssuePair(time.Now(), user, role)
	if err != nil {
		return fmt.Errorf("issue: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(pair)
}
