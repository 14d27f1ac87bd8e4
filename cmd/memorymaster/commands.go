package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/conorfennell/memorymaster/internal/cardstore"
	"github.com/conorfennell/memorymaster/internal/config"
	"github.com/conorfennell/memorymaster/internal/domain"
	"github.com/conorfennell/memorymaster/internal/migrate"
	"github.com/conorfennell/memorymaster/internal/review"
	"github.com/conorfennell/memorymaster/internal/sm2"
	"github.com/conorfennell/memorymaster/internal/stats"
)

var errUsage = errors.New("usage")

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string, positional int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, usageErr("%s: %v", fs.Name(), err)
	}
	if fs.NArg() != positional {
		return nil, usageErr("%s: expected %d argument(s), got %d", fs.Name(), positional, fs.NArg())
	}
	return fs.Args(), nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "seed":
		return a.seed(ctx)
	case "deck":
		return a.deck(ctx, rest)
	case "card":
		return a.card(ctx, rest)
	case "import":
		return a.runImport(ctx, rest)
	case "due":
		return a.due(ctx, rest)
	case "review":
		return a.reviewOne(ctx, rest)
	case "study":
		return a.study(ctx, rest)
	case "stats":
		return a.showStats(ctx, rest)
	case "settings":
		return a.settings(ctx, rest)
	case "migrate":
		return a.migrate(ctx, rest)
	}
	return usageErr("unknown command %q", cmd)
}

func (a *app) seed(ctx context.Context) error {
	decks, err := a.cards.Seed(ctx)
	if err != nil {
		return err
	}
	if decks == nil {
		fmt.Fprintln(a.out, "store already has decks; nothing seeded")
		return nil
	}
	for _, d := range decks {
		fmt.Fprintf(a.out, "created deck %s\t%s\n", d.ID, d.Name)
	}
	return nil
}

func (a *app) deck(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageErr("deck: missing subcommand (create, list, update, delete)")
	}
	sub, args := args[0], args[1:]
	switch sub {
	case "create", "update":
		fs := newFlagSet("deck " + sub)
		name := fs.String("name", "", "deck name")
		desc := fs.String("description", "", "deck description")
		tags := fs.String("tags", "", "comma-separated tags")
		positional := 0
		if sub == "update" {
			positional = 1
		}
		rest, err := parseFlags(fs, args, positional)
		if err != nil {
			return err
		}
		in := cardstore.DeckInput{Name: *name, Description: *desc, Tags: splitList(*tags)}
		var d *domain.Deck
		if sub == "create" {
			d, err = a.cards.CreateDeck(ctx, in)
		} else {
			d, err = a.cards.UpdateDeck(ctx, rest[0], in)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s\t%s\n", d.ID, d.Name)
		return nil
	case "list":
		decks, err := a.cards.ListDecks(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCARDS\tDUE\tTAGS")
		now := a.clock.Now()
		for _, d := range decks {
			cards, err := a.cards.ListCards(ctx, d.ID)
			if err != nil {
				return err
			}
			due := 0
			for _, c := range cards {
				if c.IsDue(now) {
					due++
				}
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", d.ID, d.Name, len(cards), due, strings.Join(d.Tags, ","))
		}
		return tw.Flush()
	case "delete":
		if len(args) != 1 {
			return usageErr("deck delete <deck>")
		}
		return a.cards.DeleteDeck(ctx, args[0])
	}
	return usageErr("deck: unknown subcommand %q", sub)
}

func (a *app) card(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageErr("card: missing subcommand (add, list, edit, delete)")
	}
	sub, args := args[0], args[1:]
	switch sub {
	case "add", "edit":
		fs := newFlagSet("card " + sub)
		front := fs.String("front", "", "front of the card")
		back := fs.String("back", "", "back of the card")
		tags := fs.String("tags", "", "comma-separated tags")
		frontImage := fs.String("front-image", "", "image reference for the front")
		backImage := fs.String("back-image", "", "image reference for the back")
		positional := 1
		if sub == "edit" {
			positional = 2
		}
		rest, err := parseFlags(fs, args, positional)
		if err != nil {
			return err
		}
		content := domain.Content{Front: *front, Back: *back, Tags: splitList(*tags), FrontImage: *frontImage, BackImage: *backImage}
		var c *domain.Card
		if sub == "add" {
			c, err = a.cards.AddCard(ctx, rest[0], content)
		} else {
			c, err = a.cards.UpdateContent(ctx, rest[0], rest[1], content)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, c.ID)
		return nil
	case "list":
		if len(args) != 1 {
			return usageErr("card list <deck>")
		}
		cards, err := a.cards.ListCards(ctx, args[0])
		if err != nil {
			return err
		}
		return a.printCards(cards)
	case "delete":
		if len(args) != 2 {
			return usageErr("card delete <deck> <card>")
		}
		return a.cards.DeleteCard(ctx, args[0], args[1])
	}
	return usageErr("card: unknown subcommand %q", sub)
}

func (a *app) printCards(cards []domain.Card) error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFRONT\tREPS\tINTERVAL\tEASE\tDUE")
	for _, c := range cards {
		due := c.DueDate.Format(time.DateOnly)
		if c.IsNew {
			due = "new"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%s\n", c.ID, firstLine(c.Front), c.Repetitions, c.Interval, c.EasinessFactor, due)
	}
	return tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

func (a *app) runImport(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageErr("import <deck> <dir or git url>")
	}
	report, err := a.importer().Run(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "files %d, parsed %d, added %d, skipped %d, errors %d\n",
		report.Files, report.Parsed, report.Added, report.Skipped, len(report.Errors))
	for _, e := range report.Errors {
		fmt.Fprintf(a.out, "- %v\n", e)
	}
	return nil
}

func (a *app) due(ctx context.Context, args []string) error {
	fs := newFlagSet("due")
	includeNew := fs.Bool("new", false, "include never-reviewed cards")
	rest, err := parseFlags(fs, args, 1)
	if err != nil {
		return err
	}
	if _, err := a.cards.GetDeck(ctx, rest[0]); err != nil {
		return err
	}
	cards, err := a.cards.GetDueCards(ctx, rest[0], a.clock.Now(), *includeNew)
	if err != nil {
		return err
	}
	return a.printCards(cards)
}

func (a *app) reviewOne(ctx context.Context, args []string) error {
	fs := newFlagSet("review")
	took := fs.Duration("time", 0, "how long the answer took")
	rest, err := parseFlags(fs, args, 3)
	if err != nil {
		return err
	}
	q, err := strconv.Atoi(rest[2])
	if err != nil {
		return usageErr("review: quality must be a number from 0 to 5")
	}
	res, err := a.review.Review(ctx, rest[0], rest[1], q, *took)
	if res != nil {
		a.printResult(res)
	}
	return err
}

func (a *app) printResult(res *review.Result) {
	c := res.Card
	fmt.Fprintf(a.out, "next review %s (in %d day(s)), ease %.2f, repetitions %d\n",
		c.DueDate.Format(time.DateOnly), c.Interval, c.EasinessFactor, c.Repetitions)
}

func (a *app) study(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErr("study <deck>")
	}
	deckID := args[0]
	deck, err := a.cards.GetDeck(ctx, deckID)
	if err != nil {
		return err
	}
	settings, err := a.cards.GetSettings(ctx)
	if err != nil {
		return err
	}
	session, err := a.review.BuildSession(ctx, deckID, settings)
	if err != nil {
		return err
	}
	if len(session) == 0 {
		fmt.Fprintf(a.out, "Nothing to study in %s right now.\n", deck.Name)
		return nil
	}

	in := bufio.NewScanner(a.in)
	correct := 0
	for i, c := range session {
		fmt.Fprintf(a.out, "\n[%d/%d] %s\n(press Enter to reveal)", i+1, len(session), c.Front)
		shown := time.Now()
		if !in.Scan() {
			break
		}
		took := time.Since(shown)
		fmt.Fprintf(a.out, "%s\n", c.Back)

		q, ok := askQuality(in, a.out)
		if !ok {
			break
		}
		res, err := a.review.Review(ctx, deckID, c.ID, int(q), took)
		if err != nil && !errors.Is(err, review.ErrHistoryNotRecorded) {
			return err
		}
		if err != nil {
			a.log.Warn("review not recorded in history", "card_id", c.ID, "error", err)
		}
		if q.IsCorrect() {
			correct++
		}
		a.printResult(res)
	}
	fmt.Fprintf(a.out, "\nSession finished: %d of %d correct.\n", correct, len(session))
	return in.Err()
}

func askQuality(in *bufio.Scanner, out io.Writer) (sm2.Quality, bool) {
	for {
		fmt.Fprint(out, "How well did you recall it? (0-5, q to quit): ")
		if !in.Scan() {
			return 0, false
		}
		text := strings.TrimSpace(in.Text())
		if text == "q" {
			return 0, false
		}
		v, err := strconv.Atoi(text)
		if err == nil {
			if q, err := sm2.ParseQuality(v); err == nil {
				return q, true
			}
		}
		fmt.Fprintln(out, "Please enter a number from 0 to 5.")
	}
}

func (a *app) showStats(ctx context.Context, args []string) error {
	fs := newFlagSet("stats")
	deckID := fs.String("deck", "", "limit to one deck")
	rangeName := fs.String("range", "week", "activity window: week, month or year")
	if _, err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	r, err := stats.ParseRange(*rangeName)
	if err != nil {
		return usageErr("stats: %v", err)
	}

	overview, err := a.stats.Overview(ctx, r, *deckID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Streak: %d day(s)   Today: %d review(s)\n", overview.Streak, overview.StudiedToday)
	fmt.Fprintf(a.out, "Last %d days: %d review(s), %.1f%% correct, %.0f ms average\n",
		r.Days(), overview.TotalSessions, overview.Accuracy, overview.AvgResponseTimeMs)

	if *deckID != "" {
		ds, err := a.stats.DeckStatistics(ctx, *deckID)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Deck: %d card(s), %d new, %d due, %d mastered\n",
			ds.TotalCards, ds.NewCards, ds.DueCards, ds.MasteredCards)
	}

	days, err := a.stats.DailyActivity(ctx, r, *deckID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tREVIEWS\tACCURACY")
	for _, d := range days {
		if d.Sessions > 0 {
			fmt.Fprintf(tw, "%s\t%d\t%.1f%%\n", d.Day.Format(time.DateOnly), d.Sessions, d.Accuracy)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	achievements, err := a.stats.Achievements(ctx)
	if err != nil {
		return err
	}
	for _, ach := range achievements {
		fmt.Fprintf(a.out, "* %s: %s\n", ach.Title, ach.Description)
	}
	return nil
}

func (a *app) settings(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageErr("settings: missing subcommand (show, set)")
	}
	current, err := a.cards.GetSettings(ctx)
	if err != nil {
		return err
	}
	switch args[0] {
	case "show":
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(current); err != nil {
			return err
		}
		return enc.Close()
	case "set":
		fs := newFlagSet("settings set")
		maxNew := fs.Int("max-new", current.MaxNewCardsPerSession, "new cards per session")
		maxReview := fs.Int("max-review", current.MaxReviewCardsPerSession, "review cards per session")
		size := fs.Int("session-size", current.SessionSize, "cards per session")
		easyBonus := fs.Float64("easy-bonus", current.EasyBonus, "easy bonus multiplier")
		modifier := fs.Float64("interval-modifier", current.IntervalModifier, "interval modifier")
		dark := fs.Bool("dark-mode", current.DarkMode, "dark mode preference")
		if _, err := parseFlags(fs, args[1:], 0); err != nil {
			return err
		}
		next := domain.Settings{
			MaxNewCardsPerSession:    *maxNew,
			MaxReviewCardsPerSession: *maxReview,
			SessionSize:              *size,
			EasyBonus:                *easyBonus,
			IntervalModifier:         *modifier,
			DarkMode:                 *dark,
		}
		return a.cards.SaveSettings(ctx, next)
	}
	return usageErr("settings: unknown subcommand %q", args[0])
}

func (a *app) migrate(ctx context.Context, args []string) error {
	fs := newFlagSet("migrate")
	target := fs.String("target", "redis", "destination backend: sqlite or redis")
	targetDB := fs.String("target-db", "", "destination sqlite file")
	targetAddr := fs.String("target-redis-addr", a.cfg.Redis.Addr, "destination redis address")
	targetPrefix := fs.String("target-redis-prefix", a.cfg.Redis.Prefix, "destination redis key prefix")
	if _, err := parseFlags(fs, args, 0); err != nil {
		return err
	}

	dstCfg := *a.cfg
	dstCfg.Backend = *target
	dstCfg.Redis.Addr = *targetAddr
	dstCfg.Redis.Prefix = *targetPrefix
	if *targetDB != "" {
		dstCfg.SQLite.Path = *targetDB
	}
	if err := dstCfg.Validate(); err != nil {
		return usageErr("migrate: %v", err)
	}
	if dstCfg.Backend == a.cfg.Backend && dstCfg.SQLite == a.cfg.SQLite && dstCfg.Redis == a.cfg.Redis {
		return usageErr("migrate: destination is the configured backend")
	}

	dst, err := openBackend(ctx, &dstCfg)
	if err != nil {
		return err
	}
	defer dst.Close()

	counts, err := migrate.Run(ctx, a.backend, dst, a.log)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "copied %d deck(s), %d card(s), %d history entries to %s\n",
		counts.Decks, counts.Cards, counts.History, describe(&dstCfg))
	return nil
}

func describe(cfg *config.Config) string {
	if cfg.Backend == "redis" {
		return "redis at " + cfg.Redis.Addr
	}
	return "sqlite at " + cfg.SQLite.Path
}
