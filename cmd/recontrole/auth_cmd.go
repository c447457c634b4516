package main

import (
	"fmt"
	"time"

	"github.com/fentz26/recontrole/internal/auth"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the signed-in session",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with an ID token",
	RunE:  runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out",
	RunE:  runAuthLogout,
}

var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE:  runAuthWhoami,
}

var (
	idToken      string
	refreshToken string
)

func init() {
	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authWhoamiCmd)

	authLoginCmd.Flags().StringVar(&idToken, "id-token", "", "ID token issued by the identity provider (required)")
	authLoginCmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Refresh token")
	authLoginCmd.MarkFlagRequired("id-token")
}

func authManager() (*auth.Manager, error) {
	return auth.NewManager(cfg.Auth.CredentialsPath)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	m, err := authManager()
	if err != nil {
		return err
	}

	session, err := m.Login(idToken, refreshToken)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Signed in as %s\n", displayUser(session.User))
	if session.ExpiresAt != 0 {
		fmt.Fprintf(out, "Session expires %s\n", time.Unix(session.ExpiresAt, 0).Local().Format(time.DateTime))
	}
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	m, err := authManager()
	if err != nil {
		return err
	}
	if err := m.Logout(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
	return nil
}

func runAuthWhoami(cmd *cobra.Command, args []string) error {
	m, err := authManager()
	if err != nil {
		return err
	}

	user := m.GetUser()
	if user == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), displayUser(*user))
	return nil
}

func displayUser(u auth.User) string {
	if u.Email == "" {
		return u.ID
	}
	return fmt.Sprintf("%s (%s)", u.Email, u.ID)
}
