package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"cidrbans/internal/app/bootstrap"
	"cidrbans/internal/blacklist"
	"cidrbans/internal/cidr"
	"cidrbans/internal/domain"
	"cidrbans/internal/moderation"
	"cidrbans/internal/support"
)

const (
	actorFlag = "actor"

	rangeFormatHint   = "Proper format: 0-255.0-255.0-255.0-255/0-32"
	addressFormatHint = "Proper format: 0-255.0-255.0-255.0-255"
)

func actor(cmd *cli.Command) string {
	if name := strings.TrimSpace(cmd.String(actorFlag)); name != "" {
		return name
	}
	return support.Actor()
}

func out(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return io.Discard
}

// validRange fails fast, before any store is opened.
func validRange(raw string) error {
	if _, err := cidr.ParseRange(raw); err != nil {
		return fmt.Errorf("invalid CIDR range string %q. %s", raw, rangeFormatHint)
	}
	return nil
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Ban a CIDR range permanently",
		ArgsUsage: "<range> [reason...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) < 1 {
				return errors.New("invalid syntax, proper syntax: add <range> [reason]")
			}
			if err := validRange(args[0]); err != nil {
				return err
			}

			return withServices(ctx, func(s *bootstrap.Services) error {
				ban, err := s.Moderation.Ban(ctx, args[0], strings.Join(args[1:], " "), actor(cmd))
				return reportAdded(cmd, args[0], ban, err)
			})
		},
	}
}

func addTempCommand() *cli.Command {
	return &cli.Command{
		Name:      "addtemp",
		Usage:     "Ban a CIDR range temporarily",
		ArgsUsage: "<range> <time> [reason...]",
		Description: "time is _d_h_m_s with at least one time specifier.\n" +
			"For example, 1d and 10h-30m+2m are both valid time strings, but 2 is not.",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) < 2 {
				return errors.New("invalid syntax, proper syntax: addtemp <range> <time> [reason]")
			}
			if err := validRange(args[0]); err != nil {
				return err
			}
			d, err := moderation.ParseDuration(args[1])
			if err != nil {
				return err
			}

			return withServices(ctx, func(s *bootstrap.Services) error {
				ban, err := s.Moderation.TempBan(ctx, args[0], d, strings.Join(args[2:], " "), actor(cmd))
				return reportAdded(cmd, args[0], ban, err)
			})
		},
	}
}

func reportAdded(cmd *cli.Command, rangeKey string, ban domain.BanRecord, err error) error {
	if err != nil {
		return fmt.Errorf("adding range %s into database failed: %w", rangeKey, err)
	}
	if ban.ExpiresAt != "" {
		fmt.Fprintf(out(cmd), "Banned range %s until %s for '%s'.\n", ban.Range, ban.ExpiresAt, ban.Reason)
		return nil
	}
	fmt.Fprintf(out(cmd), "Banned range %s for '%s'.\n", ban.Range, ban.Reason)
	return nil
}

func delCommand() *cli.Command {
	return &cli.Command{
		Name:      "del",
		Usage:     "Unban a CIDR range, or every range that includes an IP",
		ArgsUsage: "<ip|range>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			target := strings.TrimSpace(cmd.Args().First())
			if target == "" {
				return errors.New("invalid syntax, proper syntax: del <ip/range>")
			}
			_, rangeErr := cidr.ParseRange(target)
			_, addrErr := cidr.ParseAddress(target)
			if rangeErr != nil && addrErr != nil {
				return fmt.Errorf("invalid syntax, proper syntax: del <ip/range>. IP %s. CIDR range %s", strings.ToLower(addressFormatHint), strings.ToLower(rangeFormatHint))
			}

			return withServices(ctx, func(s *bootstrap.Services) error {
				result, err := s.Moderation.Unban(ctx, target)
				if err != nil {
					return fmt.Errorf("removing %s from database failed: %w", target, err)
				}
				if result.Exact {
					fmt.Fprintf(out(cmd), "Unbanned range %s.\n", target)
					return nil
				}
				fmt.Fprintf(out(cmd), "Removed %d range%s from the database:\n%s\n",
					len(result.Ranges), pluralS(len(result.Ranges)), strings.Join(result.Ranges, ", "))
				return nil
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List banned CIDR ranges",
		ArgsUsage: "[page]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "active",
				Usage: "Hide expired bans that have not been purged yet",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			number, err := parsePageArg(cmd.Args().First())
			if err != nil {
				return err
			}

			return withServices(ctx, func(s *bootstrap.Services) error {
				page, err := s.Moderation.List(ctx, number, cmd.Bool("active"))
				if err != nil {
					return err
				}
				writePage(out(cmd), page)
				return nil
			})
		},
	}
}

func writePage(w io.Writer, page moderation.Page) {
	if page.Total == 0 {
		fmt.Fprintln(w, "There are currently no CIDR range bans.")
		return
	}

	fmt.Fprintf(w, "CIDR Range Bans (%d/%d):\n", page.Number, page.TotalPages)
	for _, ban := range page.Bans {
		line := ban.Range
		if ban.ExpiresAt != "" {
			line += " (until " + ban.ExpiresAt + ")"
		}
		if ban.Reason != "" {
			line += " - " + ban.Reason
		}
		fmt.Fprintln(w, line)
	}
	if page.Number < page.TotalPages {
		fmt.Fprintf(w, "Type list %d for more.\n", page.Number+1)
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Show whether an IP would be let in",
		ArgsUsage: "<ip>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			address := strings.TrimSpace(cmd.Args().First())
			if _, err := cidr.ParseAddress(address); err != nil {
				return fmt.Errorf("invalid IP %q. %s", address, addressFormatHint)
			}

			return withServices(ctx, func(s *bootstrap.Services) error {
				verdict, err := s.Gate.Check(ctx, address)
				if err != nil {
					return err
				}
				if !verdict.Banned {
					fmt.Fprintf(out(cmd), "%s is not banned.\n", address)
					return nil
				}
				fmt.Fprintf(out(cmd), "%s is banned by %s. %s\n", address, verdict.Ban.Range, verdict.Message)
				return nil
			})
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Ban every address and range listed in blocklist files or URLs",
		ArgsUsage: "<file|url>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "reason",
				Usage: "Reason stored on imported bans (default: Imported from <source>)",
			},
			&cli.StringFlag{
				Name:  "time",
				Usage: "Make imported bans temporary, e.g. 7d",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sources := cmd.Args().Slice()
			if len(sources) == 0 {
				return errors.New("at least one blocklist file or URL is required")
			}

			req := blacklist.Request{Sources: sources, Reason: cmd.String("reason"), Actor: actor(cmd)}
			if raw := cmd.String("time"); raw != "" {
				d, err := moderation.ParseDuration(raw)
				if err != nil {
					return err
				}
				req.Duration = d
			}

			return withServices(ctx, func(s *bootstrap.Services) error {
				outcomes, err := s.Importer.Import(ctx, req)
				for _, o := range outcomes {
					if o.FetchErr != "" {
						fmt.Fprintf(out(cmd), "%s: failed: %s\n", o.Source, o.FetchErr)
						continue
					}
					fmt.Fprintf(out(cmd), "%s: %d found, %d added, %d already banned, %d failed\n",
						o.Source, o.Found, len(o.Added), o.Skipped, o.Failed)
				}
				return err
			})
		},
	}
}

func pluralS(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
