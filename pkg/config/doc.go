// Package config loads static configuration from nomarr.yml and NOMARR_*
// environment variables via viper, with env overriding file overriding
// defaults. The parent process loads it once and spawned workers load the
// same file, so every process agrees on intervals and the database path.
package config
