package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/MimeLyc/sidecar-translator/internal/config"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

// commandContext carries the resolved configuration shared by every command.
type commandContext struct {
	configFlag *string
	envFlag    *string

	cfg     *config.Config
	logFile *log.FileLogger
}

func newCommandContext(configFlag, envFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, envFlag: envFlag}
}

// init loads the env file, reads the configuration and installs the logger.
func (c *commandContext) init() error {
	if path := *c.envFlag; path != "" {
		// A missing .env is the normal container case.
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if *c.configFlag != "" {
		if err := os.Setenv("CONFIG_FILE", *c.configFlag); err != nil {
			return err
		}
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := log.ParseLevel(cfg.Log.Level)
	if cfg.Log.File != "" {
		fl, err := log.NewFileLogger(cfg.Log.File, level)
		if err != nil {
			return err
		}
		c.logFile = fl
		log.SetLogger(fl.Logger)
	} else {
		log.InitLogger(level)
	}
	return nil
}

func (c *commandContext) config() config.Config {
	return *c.cfg
}

func (c *commandContext) close() error {
	if c.logFile == nil {
		return nil
	}
	err := c.logFile.Close()
	c.logFile = nil
	return err
}
