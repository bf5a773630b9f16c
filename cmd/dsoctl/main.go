// Command dsoctl is the runtime's administrative front-end: a fasthttp
// server, bearer-JWT protected, backed by a buntdb-persisted user table,
// exposing read-only introspection (/objects, /cache/stats,
// /dispatch/stats) plus a /login endpoint that issues tokens, over a single
// embedded LocalNode/ObjectStore pair; no endpoint changes store state. Mirrors the teacher's authn service
// in shape (flag-driven config path, buntdb-backed manager, signal-driven
// shutdown) adapted from an auth microservice to an admin microservice.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aistore-dso/dso/cluster"
	"github.com/aistore-dso/dso/cmn/config"
	"github.com/aistore-dso/dso/cmn/cos"
	"github.com/aistore-dso/dso/cmn/nlog"
	"github.com/aistore-dso/dso/store"
)

var configPath string

func init() {
	flag.StringVar(&configPath, "config", "", "dsoctl configuration file")
}

func main() {
	if len(os.Args) == 2 && (os.Args[1] == "version" || os.Args[1] == "-version") {
		printVer()
		os.Exit(0)
	}
	installSignalHandler()
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		cos.ExitLogf("failed to load configuration from %q: %v", configPath, err)
	}

	cluster.InitIdentity(uint64(time.Now().UnixNano()))

	if cfg.Admin.SecretKey == "" {
		nlog.Warningf("dsoctl: no admin secret key configured, generating an ephemeral one for this run")
		cfg.Admin.SecretKey = cos.GenSessionTag() + cos.GenTie()
	}

	mgr, err := newAdminMgr(cfg)
	if err != nil {
		cos.ExitLogf("failed to init admin manager: %v", err)
	}
	defer mgr.Close()

	node := cluster.NewLocalNode(cluster.NewNodeID(), nil)
	objStore := store.New(node, cfg)
	node.RunCommandThread()

	go logFlush()
	nlog.Infof("dsoctl: listening on %s", cfg.Admin.ListenAddr)

	srv := newServer(cfg, mgr, objStore)
	if err := srv.Run(); err != nil {
		nlog.Flush(true)
		cos.ExitLogf("admin server failed: %v", err)
	}
	nlog.Flush(true)
}

func logFlush() {
	for {
		time.Sleep(time.Minute)
		nlog.Flush()
	}
}

func installSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		nlog.Flush(true)
		os.Exit(0)
	}()
}

func printVer() {
	fmt.Println("dsoctl admin server")
}
