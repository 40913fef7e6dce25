package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/markfickett/dicehistogram/config"
	"github.com/markfickett/dicehistogram/database"
	"github.com/markfickett/dicehistogram/logging"
	"github.com/markfickett/dicehistogram/signalhandler"
	"github.com/markfickett/dicehistogram/utils"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	databasePath string
	logFilePath  string
	debugMode    bool

	// token scopes interrupts to the running stage
	token *signalhandler.Token
)

var rootCmd = &cobra.Command{
	Use:   "dicehistogram",
	Short: "Measure how fair a die is from photographs of repeated rolls",
	Long: `dicehistogram turns a folder of photographs of a rolled die into a
fairness report. Stages run one after another on a data directory:

  crop       find the die in each photograph and write a square crop
  group      cluster the crops by which face is showing
  label      assign a face value to each cluster
  summarize  print counts, chi-squared and a bootstrapped histogram

A data directory holds capture/ (photographs plus reference.JPG and an
optional mask.JPG), and receives crop/, summary.json, labels.csv and the
SQLite ledger dicehistogram.db.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line and exits non-zero on error
func Execute() {
	token = signalhandler.SetupHandler()
	err := rootCmd.Execute()
	token.Stop()
	logging.CloseLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: dicehistogram.yaml, .yml or .toml in the data directory)")
	pf.StringVar(&databasePath, "database", "", "SQLite ledger path (default: <data_dir>/dicehistogram.db)")
	pf.StringVar(&logFilePath, "log-file", "", "Log file path (default: <data_dir>/dicehistogram.log with --debug)")
	pf.BoolVar(&debugMode, "debug", false, "Verbose logging; crop also writes locator debug images")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig layers defaults, the config file, the environment, the
// persistent flags and then the command's own flags via apply
func loadConfig(cmd *cobra.Command, dataDir string, apply func(*cobra.Command, *config.Config) error) (*config.Config, error) {
	if dataDir != "" && !utils.DirExists(dataDir) {
		return nil, fmt.Errorf("data directory does not exist: %s", dataDir)
	}

	cfg, err := config.Load(dataDir, configPath)
	if err != nil {
		return nil, err
	}
	setString(cmd, "database", &cfg.Database)
	setString(cmd, "log-file", &cfg.LogFile)
	setBool(cmd, "debug", &cfg.Debug)
	if apply != nil {
		if err := apply(cmd, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Database == "" && dataDir != "" {
		cfg.Database = utils.GetDefaultDatabasePath(dataDir)
	}
	setupLogging(cfg, dataDir)
	return cfg, nil
}

// setupLogging opens the rotated log file when debugging or when a log file
// is configured
func setupLogging(cfg *config.Config, dataDir string) {
	logging.SetDebug(cfg.Debug)
	if !cfg.Debug && cfg.LogFile == "" {
		return
	}
	logPath := cfg.LogFile
	if logPath == "" {
		logPath = filepath.Join(dataDir, utils.LogFile)
	}
	if err := logging.SetupLogger(logPath); err != nil {
		fmt.Printf("Warning: Failed to setup logging: %v\n", err)
		return
	}
	if cfg.Debug {
		fmt.Printf("Debug mode enabled. Logging to: %s\n", logPath)
	}
}

// openDatabase initializes the ledger with retry logic
func openDatabase(dbPath string) (*sql.DB, error) {
	var db *sql.DB
	var err error
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		db, err = database.InitDatabase(dbPath)
		if err == nil {
			return db, nil
		}
		if i < maxRetries-1 {
			logging.LogWarning("Error initializing database (attempt %d/%d): %v - retrying...", i+1, maxRetries, err)
			time.Sleep(time.Second * time.Duration(i+1))
		}
	}
	return nil, fmt.Errorf("error initializing database after %d attempts: %w", maxRetries, err)
}
