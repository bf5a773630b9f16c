// fasthttp admin server: /login issues a bearer token; every other route
// requires "Authorization: Bearer <token>" and serves JSON snapshots of
// ObjectStore state. Routing is a flat switch over (method, path) the way
// the teacher's smaller internal tools avoid pulling in a router package
// for a handful of endpoints.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"encoding/json"
	"strings"

	"github.com/aistore-dso/dso/cmn/config"
	"github.com/aistore-dso/dso/cmn/nlog"
	"github.com/aistore-dso/dso/store"
	"github.com/valyala/fasthttp"
)

type server struct {
	cfg   *config.Config
	mgr   *adminMgr
	store *store.ObjectStore
}

func newServer(cfg *config.Config, mgr *adminMgr, s *store.ObjectStore) *server {
	return &server{cfg: cfg, mgr: mgr, store: s}
}

func (s *server) Run() error {
	return fasthttp.ListenAndServe(s.cfg.Admin.ListenAddr, s.handle)
}

func (s *server) handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	if path == "/login" && ctx.IsPost() {
		s.handleLogin(ctx)
		return
	}
	if !s.authorize(ctx) {
		ctx.Error("unauthorized", fasthttp.StatusUnauthorized)
		return
	}
	switch path {
	case "/objects":
		writeJSON(ctx, s.store.Snapshot())
	case "/cache/stats":
		writeJSON(ctx, s.store.CacheStats())
	case "/dispatch/stats":
		writeJSON(ctx, map[string]string{"detail": "per-outcome counts are kept in the dso_dispatch_commands_total Prometheus counter, which this server does not export"})
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

func (s *server) handleLogin(ctx *fasthttp.RequestCtx) {
	var req loginRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.Error("malformed request body", fasthttp.StatusBadRequest)
		return
	}
	if err := s.mgr.authenticate(req.User, req.Password); err != nil {
		nlog.Warningf("dsoctl: login failed for %q: %v", req.User, err)
		ctx.Error("invalid credentials", fasthttp.StatusUnauthorized)
		return
	}
	tok, err := issueToken(s.cfg.Admin.SecretKey, req.User)
	if err != nil {
		ctx.Error("failed to issue token", fasthttp.StatusInternalServerError)
		return
	}
	writeJSON(ctx, map[string]string{"token": tok})
}

func (s *server) authorize(ctx *fasthttp.RequestCtx) bool {
	auth := string(ctx.Request.Header.Peek("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	_, err := verifyToken(s.cfg.Admin.SecretKey, strings.TrimPrefix(auth, prefix))
	return err == nil
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	enc := json.NewEncoder(ctx)
	if err := enc.Encode(v); err != nil {
		ctx.Error("encode error", fasthttp.StatusInternalServerError)
	}
}
