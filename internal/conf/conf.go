// Package conf loads server configuration from a TOML file with
// environment overrides for deployment-specific values.
package conf

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const defaultPath = "ludo-live.toml"

type ServerConf struct {
	Addr string `toml:"addr"`
}

type AuthConf struct {
	Mode string `toml:"mode"` // memory, sqlite, db
}

type StoreConf struct {
	Mode       string `toml:"mode"` // memory, sqlite, postgres
	SQLitePath string `toml:"sqlite_path"`
	DSN        string `toml:"dsn"`
}

type GameConf struct {
	TurnLimitSeconds   int  `toml:"turn_limit_seconds"`
	MaxInactiveTurns   int  `toml:"max_inactive_turns"`
	PitySix            bool `toml:"pity_six"`
	TripleSixPenalty   bool `toml:"triple_six_penalty"`
	RollResolveMs      int  `toml:"roll_resolve_ms"`
	NoMoveAdvanceMs    int  `toml:"no_move_advance_ms"`
	AutoStartSeconds   int  `toml:"auto_start_seconds"`
	ReconnectGraceSecs int  `toml:"reconnect_grace_seconds"`
	IdleEvictSeconds   int  `toml:"idle_evict_seconds"`
}

type Conf struct {
	Server ServerConf `toml:"server"`
	Auth   AuthConf   `toml:"auth"`
	Store  StoreConf  `toml:"store"`
	Game   GameConf   `toml:"game"`
}

var defaultConf = Conf{
	Server: ServerConf{
		Addr: ":8080",
	},
	Auth: AuthConf{
		Mode: "memory",
	},
	Store: StoreConf{
		Mode: "memory",
	},
	Game: GameConf{
		TurnLimitSeconds:   30,
		MaxInactiveTurns:   5,
		PitySix:            true,
		TripleSixPenalty:   true,
		RollResolveMs:      500,
		NoMoveAdvanceMs:    1500,
		AutoStartSeconds:   3,
		ReconnectGraceSecs: 30,
		IdleEvictSeconds:   60,
	},
}

// Load reads the config file named by LUDO_CONF (falling back to
// ./ludo-live.toml), then applies environment overrides. A missing file
// is not an error; defaults apply.
func Load() (*Conf, error) {
	c := defaultConf

	path := strings.TrimSpace(os.Getenv("LUDO_CONF"))
	explicit := path != ""
	if path == "" {
		path = defaultPath
	}

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		if _, err := toml.NewDecoder(file).Decode(&c); err != nil {
			return nil, err
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults only.
	default:
		return nil, err
	}

	c.applyEnv()
	return &c, nil
}

func (c *Conf) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("LUDO_ADDR")); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTH_MODE")); v != "" {
		c.Auth.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_MODE")); v != "" {
		c.Store.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_LOCAL_DATABASE_PATH")); v != "" {
		c.Store.SQLitePath = v
	}
	if v := strings.TrimSpace(os.Getenv("STORE_DATABASE_DSN")); v != "" {
		c.Store.DSN = v
	}
}

func (g GameConf) TurnLimit() time.Duration {
	return time.Duration(g.TurnLimitSeconds) * time.Second
}

func (g GameConf) RollResolveDelay() time.Duration {
	return time.Duration(g.RollResolveMs) * time.Millisecond
}

func (g GameConf) NoMoveAdvanceDelay() time.Duration {
	return time.Duration(g.NoMoveAdvanceMs) * time.Millisecond
}

func (g GameConf) AutoStartDelay() time.Duration {
	return time.Duration(g.AutoStartSeconds) * time.Second
}

func (g GameConf) ReconnectGrace() time.Duration {
	return time.Duration(g.ReconnectGraceSecs) * time.Second
}

func (g GameConf) IdleEvictDelay() time.Duration {
	return time.Duration(g.IdleEvictSeconds) * time.Second
}
