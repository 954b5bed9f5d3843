package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jmcleod/mgmtd/api"
	"github.com/jmcleod/mgmtd/userdir"
)

var userFlags struct {
	privileges []string
	password   string
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Administer accounts on the running server",
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromConfig()
		if err != nil {
			return err
		}
		return listUsers(cmd.Context(), c, cmd.OutOrStdout())
	},
}

var userAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Create an account",
	Long:  "Create an account. The password is read from stdin unless --password is given.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromConfig()
		if err != nil {
			return err
		}
		password, err := passwordInput(cmd)
		if err != nil {
			return err
		}
		return addUser(cmd.Context(), c, cmd.OutOrStdout(), args[0], password, userFlags.privileges)
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <email>",
	Short: "Replace an account's password and revoke its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromConfig()
		if err != nil {
			return err
		}
		password, err := passwordInput(cmd)
		if err != nil {
			return err
		}
		return setUserPassword(cmd.Context(), c, cmd.OutOrStdout(), args[0], password)
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <email>",
	Short: "Delete an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromConfig()
		if err != nil {
			return err
		}
		return deleteUser(cmd.Context(), c, cmd.OutOrStdout(), args[0])
	},
}

var userPrivilegesCmd = &cobra.Command{
	Use:   "privileges <email>",
	Short: "Replace an account's privileges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromConfig()
		if err != nil {
			return err
		}
		return setUserPrivileges(cmd.Context(), c, cmd.OutOrStdout(), args[0], userFlags.privileges)
	},
}

var userMFADisableCmd = &cobra.Command{
	Use:   "mfa-disable <email>",
	Short: "Remove every second factor of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromConfig()
		if err != nil {
			return err
		}
		return disableUserMFA(cmd.Context(), c, cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	addClientFlags(userCmd)
	userCmd.AddCommand(userListCmd, userAddCmd, userPasswdCmd, userDeleteCmd, userPrivilegesCmd, userMFADisableCmd)

	userAddCmd.Flags().StringSliceVar(&userFlags.privileges, "privilege", nil, "Privilege to grant (repeatable)")
	userAddCmd.Flags().StringVar(&userFlags.password, "password", "", "Password (visible in the process list; prefer stdin)")
	userPasswdCmd.Flags().StringVar(&userFlags.password, "password", "", "Password (visible in the process list; prefer stdin)")
	userPrivilegesCmd.Flags().StringSliceVar(&userFlags.privileges, "set", nil, "Complete privilege list (repeatable, empty to clear)")
}

// passwordInput returns --password or the first line of stdin.
func passwordInput(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Changed("password") {
		return userFlags.password, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	return readPassword(cmd.InOrStdin())
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no password given")
	}
	return line, nil
}

func listUsers(ctx context.Context, c *apiClient, w io.Writer) error {
	var users []userdir.User
	offset := 0
	for {
		var page api.ListUsersResponse
		if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users?limit=200&offset=%d", offset), nil, &page); err != nil {
			return err
		}
		users = append(users, page.Users...)
		if !page.HasMore || len(page.Users) == 0 {
			break
		}
		offset += len(page.Users)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := color.New(color.Bold)
	header.Fprintln(tw, "EMAIL\tPRIVILEGES\tMFA\tCREATED")
	for _, u := range users {
		mfa := "-"
		if len(u.MFA) > 0 {
			mfa = color.GreenString("%d", len(u.MFA))
		}
		privs := strings.Join(u.Privileges, ",")
		if privs == "" {
			privs = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.Email, privs, mfa, u.CreatedAt.Format("2006-01-02"))
	}
	return tw.Flush()
}

func addUser(ctx context.Context, c *apiClient, w io.Writer, email, password string, privileges []string) error {
	body := map[string]any{"email": email, "password": password, "privileges": privileges}
	if privileges == nil {
		body["privileges"] = []string{}
	}
	var u userdir.User
	if err := c.do(ctx, http.MethodPost, "/users", body, &u); err != nil {
		return err
	}
	fmt.Fprintf(w, "Created %s\n", u.Email)
	return nil
}

func setUserPassword(ctx context.Context, c *apiClient, w io.Writer, email, password string) error {
	if err := c.do(ctx, http.MethodPost, userPath(email, "/password"), map[string]string{"password": password}, nil); err != nil {
		return err
	}
	fmt.Fprintf(w, "Password changed for %s\n", email)
	return nil
}

func deleteUser(ctx context.Context, c *apiClient, w io.Writer, email string) error {
	if err := c.do(ctx, http.MethodDelete, userPath(email), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(w, "Deleted %s\n", email)
	return nil
}

func setUserPrivileges(ctx context.Context, c *apiClient, w io.Writer, email string, privileges []string) error {
	if privileges == nil {
		privileges = []string{}
	}
	var u userdir.User
	if err := c.do(ctx, http.MethodPut, userPath(email, "/privileges"), map[string]any{"privileges": privileges}, &u); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s now has privileges [%s]\n", u.Email, strings.Join(u.Privileges, ","))
	return nil
}

func disableUserMFA(ctx context.Context, c *apiClient, w io.Writer, email string) error {
	if err := c.do(ctx, http.MethodPost, userPath(email, "/mfa/disable"), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(w, "Second factors removed for %s\n", email)
	return nil
}
