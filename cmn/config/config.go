// Package config loads the runtime's tunables: command-cache size classes,
// instance-cache budget/age, the send-on-register flag, request-registry
// timeout, and the admin server settings. Mirrors the teacher's practice of decoding JSON with jsoniter and
// layering environment-variable overrides on top (see api/env).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"os"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// environment variable names, following the teacher's api/env convention.
var Env = struct {
	InstanceCacheBudget string
	InstanceCacheMaxAge string
	RequestTimeout      string
	SendOnRegister      string
	AdminSecretKey      string
}{
	InstanceCacheBudget: "DSO_INSTANCE_CACHE_BUDGET",
	InstanceCacheMaxAge: "DSO_INSTANCE_CACHE_MAX_AGE",
	RequestTimeout:      "DSO_REQUEST_TIMEOUT",
	SendOnRegister:      "DSO_SEND_ON_REGISTER",
	AdminSecretKey:      "DSO_ADMIN_SECRET_KEY",
}

type Config struct {
	Memsys struct {
		MinPooled   int `json:"min_pooled_size"`  // smallest pooled size class
		MaxPooled   int `json:"max_pooled_size"`  // buffers larger than this are never retained
		SizeClasses int `json:"size_classes"`     // number of power-of-two classes, MinPooled included
	} `json:"memsys"`

	InstanceCache struct {
		BudgetBytes int64         `json:"budget_bytes"`
		MaxAge      time.Duration `json:"max_age"`
	} `json:"instance_cache"`

	Request struct {
		Timeout time.Duration `json:"timeout"`
	} `json:"request"`

	SendOnRegister bool `json:"send_on_register"`

	Admin struct {
		ListenAddr string `json:"listen_addr"` // cmd/dsoctl fasthttp admin server
		DBPath     string `json:"db_path"`     // buntdb file backing the admin user table
		SecretKey  string `json:"secret_key"`  // JWT signing key; overridden by DSO_ADMIN_SECRET_KEY
	} `json:"admin"`
}

func Default() *Config {
	c := &Config{}
	c.Memsys.MinPooled = 64
	c.Memsys.MaxPooled = 1 << 20 // 1MiB; larger buffers are freed, not pooled (spec.md §4.2)
	c.Memsys.SizeClasses = 15
	c.InstanceCache.BudgetBytes = 64 << 20
	c.InstanceCache.MaxAge = 10 * time.Minute
	c.Request.Timeout = 30 * time.Second
	c.SendOnRegister = false
	c.Admin.ListenAddr = ":8901"
	c.Admin.DBPath = "dsoctl.db"
	return c
}

func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		c.applyEnv()
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, err
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(Env.InstanceCacheBudget); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.InstanceCache.BudgetBytes = n
		}
	}
	if v := os.Getenv(Env.InstanceCacheMaxAge); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.InstanceCache.MaxAge = d
		}
	}
	if v := os.Getenv(Env.RequestTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Request.Timeout = d
		}
	}
	if v := os.Getenv(Env.SendOnRegister); v != "" {
		c.SendOnRegister = v == "true" || v == "1"
	}
	if v := os.Getenv(Env.AdminSecretKey); v != "" {
		c.Admin.SecretKey = v
	}
}
