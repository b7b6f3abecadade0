package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/services"
)

// maxCodePrompts bounds the verify/resend loop of one invocation
const maxCodePrompts = 5

func newRegisterCmd(rt *runtime) *cobra.Command {
	var payload domain.RegistrationPayload
	var role string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account, confirmed by a one-time code",
		Long: `Sends a one-time code to the given email and phone, then prompts for it.
Leave the code blank to request a new one. The pending sign-up lives only
as long as this command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p := printersFor(cmd.OutOrStdout())

			view := rt.resolve(ctx)
			if decision := services.RejectAuth(view, rt.cfg.Routes); decision.Action == services.GuardRedirect {
				p.info.Printfln("Already signed in as %s (run logout first)", view.User.Email)
				return nil
			}

			payload.Role = domain.Role(role)
			if payload.Password == "" {
				password, err := rt.ask("Password", true)
				if err != nil {
					return err
				}
				payload.Password = password
			}

			flow := rt.session.Registration()
			msg, err := flow.Send(ctx, payload)
			if err != nil {
				var fields domain.FieldErrors
				if errors.As(err, &fields) {
					printFieldErrors(p, fields)
					return errors.New("registration details are invalid")
				}
				return err
			}
			p.success.Println(orDefault(msg, "Verification code sent"))

			for i := 0; i < maxCodePrompts; i++ {
				code, err := rt.ask("Verification code (blank to resend)", false)
				if err != nil {
					flow.Cancel()
					return err
				}

				if strings.TrimSpace(code) == "" {
					msg, err := flow.Resend(ctx)
					if err != nil {
						p.warning.Println(err.Error())
						continue
					}
					p.success.Println(orDefault(msg, "Verification code resent"))
					continue
				}

				result, err := flow.Verify(ctx, code)
				if err != nil {
					p.errorP.Println(err.Error())
					if flow.State() == domain.ChallengeFailed {
						p.info.Println("Leave the code blank to request a new one")
					}
					continue
				}

				p.success.Println(orDefault(result.Message, "Account created"))
				if result.User != nil && rt.session.Login(ctx, &domain.AuthResult{User: result.User, AccessToken: result.AccessToken}) {
					p.info.Printfln("Signed in, dashboard: %s", result.Redirect)
				} else {
					p.info.Println("Sign in with: carebookctl login")
				}
				return nil
			}

			flow.Cancel()
			return fmt.Errorf("registration not verified after %d attempts", maxCodePrompts)
		},
	}

	cmd.Flags().StringVar(&payload.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&payload.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&payload.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&payload.Phone, "phone", "", "Phone number in E.164 form, e.g. +15551234567")
	cmd.Flags().StringVar(&payload.Password, "password", "", "Password (prompted when omitted)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleClient), "Account role: client, caretaker or agency_owner")
	return cmd
}

func printFieldErrors(p printers, fields domain.FieldErrors) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.errorP.Printfln("%s: %s", k, fields[k])
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
