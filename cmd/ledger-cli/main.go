package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	commoncfg "dialysis-ledger/common/config"
	"dialysis-ledger/common/logger"
	"dialysis-ledger/common/mqtt"
	"dialysis-ledger/internal/client"
	"dialysis-ledger/internal/domain"
	"dialysis-ledger/internal/export"
	"dialysis-ledger/internal/ledger"
	"dialysis-ledger/internal/notify"
	"dialysis-ledger/internal/service"

	"go.uber.org/zap"
)

const usage = `usage: ledger-cli [-api URL] [-token T] <command> [flags]

commands:
  login     -email E -password P      print a bearer token
  dashboard                           today's exchanges and 7-day average
  history   [-weight below|average|above] [-uf-min N] [-uf-max N] [-strength S] [-date YYYY-MM-DD]
  trends    [-window 7days|30days]
  log-pd    -drain N [-bag N] [-leftover N] [-weight N] [-strength S] [-at YYYY-MM-DDTHH:MM] [-notes T]
  log-hd    -pre N -post N [-at YYYY-MM-DDTHH:MM] [-note T]
  export    [-format xlsx|pdf] [-out FILE]
  watch     -patient ID [-broker tcp://host:1883] [-prefix ledger/patients]
`

func main() {
	api := flag.String("api", envOr("LEDGER_API", "http://localhost:8080"), "ledger-api base URL")
	token := flag.String("token", os.Getenv("LEDGER_TOKEN"), "bearer token (or LEDGER_TOKEN)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.NewLogger(envOr("LOG_LEVEL", "warn"), "console", "ledger-cli")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	c := client.New(*api, 30*time.Second, log)
	c.SetToken(*token)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := run(ctx, c, log, cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, log *zap.Logger, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	switch cmd {
	case "login":
		email := fs.String("email", "", "account email")
		password := fs.String("password", "", "account password")
		_ = fs.Parse(args)
		auth, err := c.Login(ctx, *email, *password)
		if err != nil {
			return err
		}
		fmt.Println(auth.Token)
		return nil

	case "dashboard":
		_ = fs.Parse(args)
		sum, err := c.Dashboard(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Hello %s. Today %s: total UF %s mL, 7-day average %d mL\n",
			sum.FirstName, sum.Today, ledger.UF{Value: sum.TodayTotalUF, Known: true}, sum.WeeklyAverageUF)
		for _, ex := range sum.TodayExchanges {
			fmt.Printf("  %s  %-5s %6s  %s\n", ex.Time, ex.Strength, ex.UF, ex.Balance)
		}
		return nil

	case "history":
		cfg, err := filterFlags(fs, args)
		if err != nil {
			return err
		}
		b := client.NewHistoryBrowser(c)
		b.Stage(cfg)
		state, _ := b.Apply(ctx)
		if state.Err != nil {
			return state.Err
		}
		view := state.Data
		fmt.Printf("Showing %d of %d\n", view.Showing, view.Total)
		for _, g := range view.Groups {
			fmt.Printf("%s  total %s mL\n", g.Date, ledger.UF{Value: g.TotalUF, Known: true})
			for _, r := range g.Rows {
				fmt.Printf("  %8s  %-2s %-5s %6s  %s\n", r.Time, r.Kind, r.Strength, r.UFText, r.WeightCategory)
			}
		}
		return nil

	case "trends":
		window := fs.String("window", string(ledger.Window7Days), "7days or 30days")
		_ = fs.Parse(args)
		v := client.NewTrendView(c)
		state, _ := v.Select(ctx, ledger.Window(*window))
		return printTrend(state)

	case "log-pd":
		drain := fs.String("drain", "", "drain volume mL")
		bag := fs.String("bag", "", "bag volume mL (default 2000)")
		leftover := fs.String("leftover", "", "leftover volume mL (default 0)")
		weight := fs.String("weight", "", "weight kg")
		strength := fs.String("strength", "", "1.5%, 2.5% or 7.5%")
		at := fs.String("at", "", "civil timestamp, default now")
		notes := fs.String("notes", "", "notes")
		_ = fs.Parse(args)
		req := service.CreatePDRequest{Timestamp: *at, BaxterStrength: *strength, Notes: *notes}
		for _, f := range []struct {
			raw string
			dst **float64
		}{{*drain, &req.DrainVolume}, {*bag, &req.BagVolume}, {*leftover, &req.LeftoverVolume}, {*weight, &req.Weight}} {
			v, err := optionalFloat(f.raw)
			if err != nil {
				return err
			}
			*f.dst = v
		}
		rec, err := c.CreatePD(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(rec)

	case "log-hd":
		pre := fs.Float64("pre", 0, "pre-dialysis weight kg")
		post := fs.Float64("post", 0, "post-dialysis weight kg")
		at := fs.String("at", "", "civil timestamp, default now")
		note := fs.String("note", "", "note")
		_ = fs.Parse(args)
		rec, err := c.CreateHD(ctx, service.CreateHDRequest{Timestamp: *at, PreWeight: *pre, PostWeight: *post, Note: *note})
		if err != nil {
			return err
		}
		return printJSON(rec)

	case "export":
		format := fs.String("format", string(export.FormatXLSX), "xlsx or pdf")
		out := fs.String("out", "", "output file (default: server filename)")
		_ = fs.Parse(args)
		f, err := export.ParseFormat(*format)
		if err != nil {
			return err
		}
		body, filename, err := c.ExportHistory(ctx, f, ledger.FilterConfig{})
		if err != nil {
			return err
		}
		if *out != "" {
			filename = *out
		}
		if err := os.WriteFile(filename, body, 0o644); err != nil {
			return err
		}
		fmt.Println(filename)
		return nil

	case "watch":
		patient := fs.String("patient", "", "patient id")
		broker := fs.String("broker", envOr("MQTT_BROKER", "tcp://localhost:1883"), "MQTT broker")
		prefix := fs.String("prefix", envOr("MQTT_TOPIC_PREFIX", "ledger/patients"), "topic prefix")
		_ = fs.Parse(args)
		if *patient == "" {
			return fmt.Errorf("-patient is required")
		}
		return watch(ctx, c, log, *broker, *prefix, *patient)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// watch reprints the dashboard whenever the patient's records change.
func watch(ctx context.Context, c *client.Client, log *zap.Logger, broker, prefix, patientID string) error {
	sub, err := mqtt.NewClient(&commoncfg.MQTTConfig{
		Broker:   broker,
		ClientID: "ledger-cli-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		QoS:      1,
	}, log)
	if err != nil {
		return err
	}
	defer sub.Disconnect()

	changed := make(chan notify.ChangeEvent, 16)
	if err := client.Watch(sub, prefix, patientID, 1, func(ev notify.ChangeEvent) {
		select {
		case changed <- ev:
		default:
		}
	}); err != nil {
		return err
	}
	fmt.Printf("Watching %s\n", notify.ChangesTopic(prefix, patientID))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-changed:
			fmt.Printf("[%s] %s %s %s\n", time.UnixMilli(ev.Timestamp).Format(time.Kitchen), ev.Kind, ev.Op, ev.RecordID)
			if err := run(ctx, c, log, "dashboard", nil); err != nil {
				log.Warn("Dashboard refresh failed", zap.Error(err))
			}
		}
	}
}

func filterFlags(fs *flag.FlagSet, args []string) (ledger.FilterConfig, error) {
	weight := fs.String("weight", "", "below, average or above")
	ufMin := fs.String("uf-min", "", "minimum uf mL")
	ufMax := fs.String("uf-max", "", "maximum uf mL")
	strength := fs.String("strength", "", "1.5%, 2.5% or 7.5%")
	date := fs.String("date", "", "civil date YYYY-MM-DD")
	_ = fs.Parse(args)

	cfg := ledger.FilterConfig{
		WeightCategory: ledger.WeightCategory(*weight),
		Strength:       domain.Strength(*strength),
		Date:           *date,
	}
	var err error
	if cfg.UFMin, err = optionalFloat(*ufMin); err != nil {
		return cfg, err
	}
	if cfg.UFMax, err = optionalFloat(*ufMax); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func printTrend(state ledger.LoadState[*ledger.TrendSeries]) error {
	switch state.Phase {
	case ledger.PhaseFailed:
		return state.Err
	case ledger.PhaseLoadedEmpty:
		fmt.Println("No exchanges in this window yet.")
		return nil
	}
	s := state.Data
	for _, p := range s.Points {
		fmt.Printf("%-7s %s\n", p.Label, ledger.UF{Value: p.Value, Known: true})
	}
	if s.Retention {
		fmt.Println("Fluid retention recorded in this window.")
	}
	return nil
}

func optionalFloat(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%q is not a number", raw)
	}
	return &v, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
