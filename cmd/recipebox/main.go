package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	apiclient "github.com/splax/recipebox/pkg/api/client"
)

var buildVersion = "dev"

const requestTimeout = 30 * time.Second

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "recipebox",
		Usage:   "generate recipes from the ingredients you have",
		Version: buildVersion,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "api", Usage: "API base URL (defaults to the saved value or " + apiclient.DefaultBaseURL + ")"},
		},
		Commands: []*cli.Command{
			{
				Name:   "register",
				Usage:  "create an account and save its token",
				Flags:  credentialFlags(),
				Action: sessionAction(true),
			},
			{
				Name:   "login",
				Usage:  "log in and save the token",
				Flags:  credentialFlags(),
				Action: sessionAction(false),
			},
			{
				Name:  "generate",
				Usage: "generate a recipe",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "ingredient", Aliases: []string{"i"}, Usage: "ingredient (repeatable)", Required: true},
					&cli.StringSliceFlag{Name: "diet", Usage: "dietary preference (repeatable)"},
					&cli.IntFlag{Name: "time", Usage: "cooking time in minutes"},
					&cli.IntFlag{Name: "servings", Usage: "number of servings"},
				},
				Action: generateAction,
			},
			{
				Name:   "history",
				Usage:  "list your recipes, newest first",
				Action: historyAction,
			},
			{
				Name:   "health",
				Usage:  "check that the API is up",
				Action: healthAction,
			},
		},
	}
}

func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "email", Usage: "account email", Required: true},
		&cli.StringFlag{Name: "password", Usage: "password (prompted when omitted)"},
	}
}

func sessionAction(register bool) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		password := strings.TrimSpace(cmd.String("password"))
		if password == "" {
			secret, err := promptPassword()
			if err != nil {
				return err
			}
			password = secret
		}
		cfg, client, err := connect(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		email := cmd.String("email")
		var session apiclient.Session
		if register {
			session, err = client.Register(ctx, email, password)
		} else {
			session, err = client.Login(ctx, email, password)
		}
		if err != nil {
			return err
		}
		cfg.AccessToken = session.Token
		cfg.Email = session.User.Email
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(cmd.Root().Writer, "logged in as %s (%s tier, %d recipes generated)\n",
			session.User.Email, session.User.SubscriptionTier, session.User.RecipesGenerated)
		return nil
	}
}

func generateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, client, err := connect(cmd)
	if err != nil {
		return err
	}
	if cfg.AccessToken == "" {
		return errors.New("not logged in; run `recipebox login` first")
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	gen, err := client.Generate(ctx, cfg.AccessToken, apiclient.GenerateInput{
		Ingredients:        cmd.StringSlice("ingredient"),
		DietaryPreferences: cmd.StringSlice("diet"),
		CookingTime:        int(cmd.Int("time")),
		Servings:           int(cmd.Int("servings")),
	})
	if err != nil {
		return err
	}
	out := cmd.Root().Writer
	printRecipe(out, gen.Recipe)
	limit := "unlimited"
	if gen.Usage.Limit != nil {
		limit = fmt.Sprint(*gen.Usage.Limit)
	}
	fmt.Fprintf(out, "\nusage: %d of %s\n", gen.Usage.Generated, limit)
	return nil
}

func historyAction(ctx context.Context, cmd *cli.Command) error {
	cfg, client, err := connect(cmd)
	if err != nil {
		return err
	}
	if cfg.AccessToken == "" {
		return errors.New("not logged in; run `recipebox login` first")
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	recipes, err := client.History(ctx, cfg.AccessToken)
	if err != nil {
		return err
	}
	out := cmd.Root().Writer
	if len(recipes) == 0 {
		fmt.Fprintln(out, "no recipes yet")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tTITLE\tTIME\tSERVINGS")
	for _, r := range recipes {
		fmt.Fprintf(tw, "%s\t%s\t%dm\t%d\n", r.CreatedAt.Local().Format(time.DateTime), r.Title, r.CookingTime, r.Servings)
	}
	return tw.Flush()
}

func healthAction(ctx context.Context, cmd *cli.Command) error {
	_, client, err := connect(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	banner, err := client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "%s (version %s)\n", banner.Message, banner.Version)
	return nil
}

// connect loads the saved config, applies --api, and builds a client.
func connect(cmd *cli.Command) (cliConfig, *apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cliConfig{}, nil, fmt.Errorf("load config: %w", err)
	}
	if api := strings.TrimSpace(cmd.String("api")); api != "" {
		cfg.APIBaseURL = api
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return cliConfig{}, nil, err
	}
	return cfg, client, nil
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(secret), nil
}

func printRecipe(out io.Writer, r apiclient.Recipe) {
	fmt.Fprintln(out, r.Title)
	fmt.Fprintf(out, "%d minutes, serves %d", r.CookingTime, r.Servings)
	if len(r.DietaryTags) > 0 {
		fmt.Fprintf(out, " [%s]", strings.Join(r.DietaryTags, ", "))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "\nIngredients:")
	for _, ing := range r.Ingredients {
		fmt.Fprintf(out, "  - %s\n", ing)
	}
	fmt.Fprintln(out, "\nInstructions:")
	for _, step := range r.Instructions {
		fmt.Fprintf(out, "  %s\n", step)
	}
}
