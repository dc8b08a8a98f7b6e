// Command careerguide is a terminal client for the AI career guidance API.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashureev/careerguide/internal/apiclient"
	"github.com/ashureev/careerguide/internal/auth"
	"github.com/ashureev/careerguide/internal/config"
	"github.com/ashureev/careerguide/internal/domain"
	"github.com/ashureev/careerguide/internal/shared"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli holds what every command shares.
type cli struct {
	in  *bufio.Reader
	out io.Writer

	configPath string
	verbose    bool

	app *app
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: bufio.NewReader(in), out: out}

	root := &cobra.Command{
		Use:           "careerguide",
		Short:         "Terminal client for the AI career guidance API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.app != nil {
				c.app.Close()
				_ = c.app.logger.Sync()
			}
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		c.loginCmd(),
		c.registerCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.getCmd(),
		c.submitCmd(),
		c.chatCmd(),
	)
	return root
}

func (c *cli) setup(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	level := "warn"
	if c.verbose || cfg.Debug() {
		level = "debug"
	}
	logger, err := shared.NewLogger(level, "stderr")
	if err != nil {
		return err
	}

	c.app, err = newApp(ctx, cfg, logger)
	return err
}

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if email == "" {
				if email, err = c.prompt("Email: "); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = c.prompt("Password: "); err != nil {
					return err
				}
			}

			id, err := c.app.session.Login(cmd.Context(), email, password)
			if err != nil {
				return c.authFailure(err)
			}
			fmt.Fprintln(c.out, successStyle.Render("Signed in as "+id.Name()))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", os.Getenv("CAREERGUIDE_PASSWORD"), "account password (prompted when empty)")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var reg domain.Registration
	years := -1
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if reg.Email == "" {
				if reg.Email, err = c.prompt("Email: "); err != nil {
					return err
				}
			}
			if reg.Password == "" {
				if reg.Password, err = c.prompt("Password: "); err != nil {
					return err
				}
			}
			if years >= 0 {
				reg.YearsOfExperience = &years
			}

			id, err := c.app.session.Register(cmd.Context(), reg)
			if err != nil {
				return c.authFailure(err)
			}
			fmt.Fprintln(c.out, successStyle.Render("Welcome, "+id.Name()))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&reg.Email, "email", "", "account email")
	f.StringVar(&reg.Password, "password", os.Getenv("CAREERGUIDE_PASSWORD"), "account password (prompted when empty)")
	f.StringVar(&reg.FullName, "name", "", "full name")
	f.StringVar(&reg.AgeRange, "age-range", "", "age range, e.g. 25-34")
	f.StringVar(&reg.CurrentJobRole, "job-role", "", "current job role")
	f.StringVar(&reg.Industry, "industry", "", "industry")
	f.StringVar(&reg.EducationalBackground, "education", "", "educational background")
	f.IntVar(&years, "years", -1, "years of experience")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c.app.session.Bootstrap(cmd.Context())
			if err := c.app.session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.out, mutedStyle.Render("Signed out"))
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c.app.session.Bootstrap(cmd.Context())
			id := c.app.session.CurrentIdentity()
			if id == nil {
				fmt.Fprintln(c.out, mutedStyle.Render("Not signed in"))
				return nil
			}
			fmt.Fprintln(c.out, labelStyle.Render("Name")+id.Name())
			fmt.Fprintln(c.out, labelStyle.Render("Email")+id.Email)
			fmt.Fprintln(c.out, labelStyle.Render("ID")+id.ID)
			fmt.Fprintln(c.out, labelStyle.Render("Backend")+c.app.backend.Name())
			return nil
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Fetch an API path, e.g. /assessments or /recommendations/3",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.app.session.Bootstrap(cmd.Context())
			path := "/" + strings.TrimLeft(args[0], "/")
			body, err := c.app.api.Get(cmd.Context(), path)
			if err != nil {
				return c.apiFailure(err)
			}
			fmt.Fprintln(c.out, prettyJSON(body))
			return nil
		},
	}
}

func (c *cli) submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "submit <assessment|skills|recommendations> <file|->",
		Short:     "Submit a JSON document as an assessment, skill evaluation or recommendation request",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"assessment", "skills", "recommendations"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c.app.session.Bootstrap(cmd.Context())
			body, err := c.readDocument(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var out []byte
			switch args[0] {
			case "assessment":
				out, err = c.app.api.CreateAssessment(ctx, body)
			case "skills":
				out, err = c.app.api.EvaluateSkills(ctx, body)
			case "recommendations":
				out, err = c.app.api.GenerateRecommendations(ctx, body)
			default:
				return fmt.Errorf("unknown document kind %q", args[0])
			}
			if err != nil {
				return c.apiFailure(err)
			}
			fmt.Fprintln(c.out, prettyJSON(out))
			return nil
		},
	}
}

func (c *cli) readDocument(name string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(c.in)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}

func (c *cli) prompt(label string) (string, error) {
	fmt.Fprint(c.out, promptStyle.Render(label))
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

// authFailure turns an identity backend error into its display message.
func (c *cli) authFailure(err error) error {
	c.app.logger.Debug("auth failed", zap.Error(err))
	return errors.New(auth.Message(err))
}

func (c *cli) apiFailure(err error) error {
	c.app.logger.Debug("api call failed", zap.Error(err))
	var apiErr *apiclient.APIError
	switch {
	case errors.Is(err, apiclient.ErrSessionExpired):
		return errors.New("your session has expired, run `careerguide login`")
	case errors.Is(err, apiclient.ErrUnreachable):
		return errors.New("network error, please check your connection")
	case errors.As(err, &apiErr):
		if apiErr.Status == 401 && !c.app.session.IsAuthenticated() {
			return errors.New("not signed in, run `careerguide login`")
		}
		return errors.New(apiErr.Message)
	default:
		return err
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
