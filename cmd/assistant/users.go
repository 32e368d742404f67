package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/assistant-calendar/internal/application"
)

// operator is the principal used for account management from the command line.
var operator = application.Principal{UserID: "cli", IsAdmin: true}

func newUsersCommand(rt *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUsersCreateCommand(rt), newUsersListCommand(rt))
	return cmd
}

func newUsersCreateCommand(rt *cli) *cobra.Command {
	var input application.UserInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Example: `  assistant users create --email alice@example.com --name "Alice" --password "correct horse battery"
  assistant users create --email root@example.com --name "Admin" --password "..." --admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer b.Close()

			svc := newServices(rt.cfg, rt.logger, b, keyValueStores{}, nil, nil)
			user, err := svc.Users.CreateUser(ctx, application.CreateUserParams{Principal: operator, Input: input})
			if err != nil {
				var vErr *application.ValidationError
				if errors.As(err, &vErr) {
					return fmt.Errorf("invalid user: %s", vErr.Summary())
				}
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s <%s>\n", user.ID, user.Email)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&input.Email, "email", "", "Email address used to sign in")
	flags.StringVar(&input.DisplayName, "name", "", "Display name shown to other participants")
	flags.StringVar(&input.Password, "password", "", "Initial password")
	flags.BoolVar(&input.IsAdmin, "admin", false, "Grant administrator privileges")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUsersListCommand(rt *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := openBackend(ctx, rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer b.Close()

			users, err := newServices(rt.cfg, rt.logger, b, keyValueStores{}, nil, nil).Users.ListUsers(ctx, operator)
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE")
			for _, user := range users {
				role := "member"
				if user.IsAdmin {
					role = "admin"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", user.ID, user.Email, user.DisplayName, role)
			}
			return w.Flush()
		},
	}
}
