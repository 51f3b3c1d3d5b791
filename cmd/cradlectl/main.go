// Command cradlectl inspects and edits the role catalog and user grants
// directly against the configured database.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"smartcradle/bootstrap"
	"smartcradle/config"
	"smartcradle/models"
	"smartcradle/services"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cli struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
	infra  *bootstrap.Infra
}

func main() {
	if err := newRootCmd(&cli{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "cradlectl",
		Short:         "Administer smart cradle roles, permissions and users",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.close()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("CRADLE_CONFIG"), "config file (default ./config.yaml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log registry activity to stderr")

	root.AddCommand(c.seedCmd(), c.permissionsCmd(), c.rolesCmd(), c.userCmd())
	return root
}

func (c *cli) open(ctx context.Context) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = zap.NewNop()
	if c.verbose {
		if c.logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	c.infra, err = bootstrap.InitInfra(ctx, cfg, c.logger)
	return err
}

func (c *cli) close() error {
	if c.infra == nil {
		return nil
	}
	_ = c.logger.Sync()
	return c.infra.Close()
}

func (c *cli) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Install the built-in permissions, roles and bootstrap administrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.infra.Seed(cmd.Context(), c.cfg, c.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "catalog seeded")
			return nil
		},
	}
}

func (c *cli) permissionsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "permissions", Short: "Permission catalog"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every permission grouped for display",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			perms, err := c.infra.Roles.ListPermissions(cmd.Context())
			if err != nil {
				return err
			}
			return table(cmd.OutOrStdout(), []string{"GROUP", "SLUG", "NAME"}, func(row func(...string)) {
				for _, p := range perms {
					row(p.Group, p.Slug, p.Name)
				}
			})
		},
	})
	return cmd
}

func (c *cli) rolesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "roles", Short: "Roles and their grants"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles with their permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			roles, err := c.infra.Roles.ListRoles(cmd.Context())
			if err != nil {
				return err
			}
			return table(cmd.OutOrStdout(), []string{"SLUG", "DEFAULT", "PERMISSIONS"}, func(row func(...string)) {
				for _, r := range roles {
					slugs := make([]string, 0, len(r.Permissions))
					for _, p := range r.Permissions {
						slugs = append(slugs, p.Slug)
					}
					row(r.Slug, fmt.Sprint(r.IsDefault), strings.Join(slugs, ","))
				}
			})
		},
	})
	return cmd
}

func (c *cli) userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Inspect and change user roles"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "inspect <email>",
			Short: "Show roles, effective permissions and device relationships",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				user, err := c.infra.UserRoles.LoadUserByEmail(ctx, strings.ToLower(args[0]))
				if err != nil {
					return err
				}
				rels, err := c.infra.Devices.Relationships(ctx, user.ID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:           %d\n", user.ID)
				fmt.Fprintf(out, "email:        %s\n", user.Email)
				fmt.Fprintf(out, "primary role: %s\n", services.PrimaryRole(user))
				fmt.Fprintf(out, "roles:        %s\n", strings.Join(services.RoleSlugs(user), ","))
				fmt.Fprintf(out, "permissions:  %s\n", strings.Join(services.EffectivePermissions(user), ","))
				fmt.Fprintln(out)
				return table(out, []string{"DEVICE", "RELATIONSHIP", "PERMISSIONS"}, func(row func(...string)) {
					for _, r := range rels {
						perms := make([]string, len(r.Permissions))
						for i, p := range r.Permissions {
							perms[i] = string(p)
						}
						row(fmt.Sprint(r.DeviceID), string(r.RelationshipType), strings.Join(perms, ","))
					}
				})
			},
		},
		&cobra.Command{
			Use:   "grant <email> <role>",
			Short: "Assign a role to a user",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.changeRole(cmd, args[0], args[1], c.infra.UserRoles.AssignRole, "granted")
			},
		},
		&cobra.Command{
			Use:   "revoke <email> <role>",
			Short: "Remove a role from a user",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.changeRole(cmd, args[0], args[1], c.infra.UserRoles.RemoveRole, "revoked")
			},
		},
	)
	return cmd
}

func (c *cli) changeRole(cmd *cobra.Command, email, role string, apply func(context.Context, *models.User, string) error, verb string) error {
	ctx := cmd.Context()
	user, err := c.infra.UserRoles.LoadUserByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return err
	}
	if err := apply(ctx, user, role); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", verb, role, user.Email)
	return nil
}

func table(w io.Writer, header []string, fill func(row func(...string))) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	fill(func(cols ...string) { fmt.Fprintln(tw, strings.Join(cols, "\t")) })
	return tw.Flush()
}
