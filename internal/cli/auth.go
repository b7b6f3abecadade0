package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/infrastructure/cache"
	"github.com/you/carebook/internal/services"
)

func newLoginCmd(rt *runtime) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p := printersFor(cmd.OutOrStdout())

			view := rt.resolve(ctx)
			if decision := services.RejectAuth(view, rt.cfg.Routes); decision.Action == services.GuardRedirect {
				p.info.Printfln("Already signed in as %s (run logout first)", view.User.Email)
				return nil
			}

			var err error
			if email == "" {
				if email, err = rt.ask("Email", false); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = rt.ask("Password", true); err != nil {
					return err
				}
			}

			view, err = rt.session.Authenticate(ctx, email, password)
			if err != nil {
				if errors.Is(err, domain.ErrInvalidCredentials) {
					return errors.New(domain.UserMessage(err, "Invalid credentials"))
				}
				return fmt.Errorf("login failed: %w", err)
			}

			p.success.Printfln("Signed in as %s %s (%s)", view.User.FirstName, view.User.LastName, view.User.Role)
			p.info.Printfln("Dashboard: %s", services.RoleRedirect(string(view.User.Role), rt.cfg.Routes))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")
	return cmd
}

func newLogoutCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget cached credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt.session.Logout(cmd.Context())
			printersFor(cmd.OutOrStdout()).success.Println("Logged out successfully")
			return nil
		},
	}
}

func newStatusCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the cached session against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p := printersFor(cmd.OutOrStdout())

			view := rt.resolve(ctx)
			p.section.Println("Session Status")
			p.info.Printfln("State: %s", rt.session.State())

			if !view.IsAuthenticated {
				p.warning.Println("Not signed in")
				return nil
			}
			p.info.Printfln("User: %s %s <%s>", view.User.FirstName, view.User.LastName, view.User.Email)
			p.info.Printfln("Role: %s", view.User.Role)
			p.info.Printfln("Dashboard: %s", services.RoleRedirect(string(view.User.Role), rt.cfg.Routes))

			if rt.session.State() == services.StateDegraded {
				p.warning.Printfln("Server could not be reached, showing cached session: %v", rt.session.LastError())
			}
			if token, ok := rt.cache.ReadToken(ctx); ok {
				if exp, ok := cache.TokenExpiry(token); ok {
					if time.Now().After(exp) {
						p.warning.Printfln("Access token expired at %s", exp.Format(time.RFC1123))
					} else {
						p.info.Printfln("Access token expires at %s", exp.Format(time.RFC1123))
					}
				}
			}
			return nil
		},
	}
}

func newWhoamiCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the cached identity without contacting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity := rt.cache.Read(cmd.Context())
			if identity == nil {
				return errors.New("not signed in")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s <%s> %s\n", identity.FirstName, identity.LastName, identity.Email, identity.Role)
			return nil
		},
	}
}
