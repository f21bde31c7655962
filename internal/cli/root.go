// Package cli implements the brandkeeper CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/brandkeeper/internal/config"
	"github.com/rcliao/brandkeeper/internal/engine"
	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/logging"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
)

var (
	dbPath     string
	configPath string
	roleFlag   string
	planFlag   string
)

var roles = map[model.Role]bool{
	model.RoleBrandAuthor: true,
	model.RoleWriter:      true,
	model.RoleEditor:      true,
	model.RoleResearcher:  true,
	model.RoleSystem:      true,
}

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "brandkeeper",
	Short: "Brand governance for AI-assisted writing",
	Long: "Role-gated memory, a versioned knowledge base, content plans and brand validation " +
		"for a small writing crew. SQLite-backed, single binary, JSON out.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $BRANDKEEPER_DB or ~/.brandkeeper/brandkeeper.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML)")
	RootCmd.PersistentFlags().StringVar(&roleFlag, "role", string(model.RoleEditor), "Acting role: brand_author, writer, editor, researcher, system")
	RootCmd.PersistentFlags().StringVar(&planFlag, "plan", "", "Plan the call belongs to")
}

func loadConfig() config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg
}

func openEngine(cmd *cobra.Command) *engine.Engine {
	cfg := loadConfig()
	logger := logging.Init(cfg.Log.Format, cfg.Log.Level)
	e, err := engine.Open(cmd.Context(), cfg, logger)
	if err != nil {
		exitErr("open engine", err)
	}
	return e
}

// caller is the session every command acts under.
func caller() session.Context {
	role := model.Role(strings.ToLower(strings.TrimSpace(roleFlag)))
	if !roles[role] {
		exitErr("role", fmt.Errorf("unknown role %q", roleFlag))
	}
	return session.New(role).WithPlan(planFlag)
}

// readContent takes the positional args, or stdin when there are none.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	if k := errs.KindOf(err); k != "" {
		fmt.Fprintf(os.Stderr, "error: %s [%s]: %v\n", msg, k, err)
	} else {
		fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	}
	os.Exit(1)
}
