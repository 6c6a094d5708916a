package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/wfunc/quizbattle/battle"
	"github.com/wfunc/quizbattle/logger"
	"github.com/wfunc/quizbattle/models"
	"github.com/wfunc/quizbattle/persistence"
	"github.com/wfunc/quizbattle/services"
)

type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Database persistence.DBConfig    `mapstructure:"database"`
	Retry    persistence.RetryConfig `mapstructure:"retry"`
	Engine   battle.Config           `mapstructure:"engine"`
	Client   ClientConfig            `mapstructure:"client"`
	Sweeper  services.SweeperConfig  `mapstructure:"sweeper"`
}

type ServerConfig struct {
	HTTPAddress string `mapstructure:"http_address"`
	RPCAddress  string `mapstructure:"rpc_address"`
}

// ClientConfig describes one player's seat in one battle.
type ClientConfig struct {
	StoreAddress  string            `mapstructure:"store_address"`
	PlayerID      string            `mapstructure:"player_id"`
	Host          bool              `mapstructure:"host"`
	SessionID     string            `mapstructure:"session_id"`
	LobbyCode     string            `mapstructure:"lobby_code"`
	TotalRounds   int               `mapstructure:"total_rounds"`
	Difficulty    models.Difficulty `mapstructure:"difficulty"`
	QuestionsFile string            `mapstructure:"questions_file"`
	PollWaiting   time.Duration     `mapstructure:"poll_waiting"`
	PollRunning   time.Duration     `mapstructure:"poll_running"`
	UIAddress     string            `mapstructure:"ui_address"`
	Interactive   bool              `mapstructure:"interactive"`
	BotAccuracy   float64           `mapstructure:"bot_accuracy"`
	BotThink      time.Duration     `mapstructure:"bot_think"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sqlite_path", "quizbattle.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "quizbattle")

	v.SetDefault("retry.max_tries", persistence.DefaultRetryConfig.MaxTries)
	v.SetDefault("retry.initial_interval", persistence.DefaultRetryConfig.InitialInterval)
	v.SetDefault("retry.max_interval", persistence.DefaultRetryConfig.MaxInterval)

	e := battle.DefaultConfig()
	v.SetDefault("engine.base_damage", e.BaseDamage)
	v.SetDefault("engine.wrong_answer_penalty", e.WrongAnswerPenalty)
	v.SetDefault("engine.heal_amount", e.HealAmount)
	v.SetDefault("engine.poison_hit", e.PoisonHit)
	v.SetDefault("engine.poison_tick_damage", e.PoisonTickDamage)
	v.SetDefault("engine.poison_turns", e.PoisonTurns)
	v.SetDefault("engine.poison_policy", string(e.PoisonPolicy))
	v.SetDefault("engine.poison_max_stacks", e.PoisonMaxStacks)
	v.SetDefault("engine.reduction_percent", e.ReductionPercent)
	v.SetDefault("engine.min_time", e.MinTime)
	v.SetDefault("engine.shield_slots", e.ShieldSlots)
	v.SetDefault("engine.hand_size", e.HandSize)
	v.SetDefault("engine.dedup_attempts", e.DedupAttempts)
	v.SetDefault("engine.seed", 0)

	v.SetDefault("client.store_address", "localhost:9090")
	v.SetDefault("client.player_id", "")
	v.SetDefault("client.host", false)
	v.SetDefault("client.session_id", "")
	v.SetDefault("client.lobby_code", "")
	v.SetDefault("client.total_rounds", 10)
	v.SetDefault("client.difficulty", string(models.DifficultyAverage))
	v.SetDefault("client.questions_file", "questions.yaml")
	v.SetDefault("client.poll_waiting", time.Second)
	v.SetDefault("client.poll_running", 3*time.Second)
	v.SetDefault("client.ui_address", "")
	v.SetDefault("client.interactive", false)
	v.SetDefault("client.bot_accuracy", 0.7)
	v.SetDefault("client.bot_think", 2*time.Second)

	v.SetDefault("sweeper.interval", time.Minute)
	v.SetDefault("sweeper.idle_timeout", 10*time.Minute)
	v.SetDefault("sweeper.archive_after", time.Hour)
	v.SetDefault("sweeper.batch_size", 100)
}

// LoadConfig reads config.yaml from path, then .env, then QUIZBATTLE_* environment
// variables. A missing config file is not an error.
func LoadConfig(path string) (config *Config, err error) {
	if err := godotenv.Load(); err != nil {
		logger.Log.Debugf("No .env file loaded: %v", err)
	}

	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("QUIZBATTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		logger.Log.Infof("No config file in %s, using defaults", path)
	}

	err = v.Unmarshal(&config)
	return
}
