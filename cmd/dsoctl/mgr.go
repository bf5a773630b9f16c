// adminMgr owns the buntdb-backed user table: bcrypt password hashes keyed
// by username, mirroring the teacher's authn service (kvdb-backed user/role
// tables) narrowed down to the single "admin" role dsoctl needs.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"errors"
	"fmt"

	"github.com/aistore-dso/dso/cmn/config"
	"github.com/tidwall/buntdb"
	"golang.org/x/crypto/bcrypt"
)

var errBadCredentials = errors.New("invalid username or password")

type adminMgr struct {
	db *buntdb.DB
}

func userKey(name string) string { return "user:" + name }

func newAdminMgr(cfg *config.Config) (*adminMgr, error) {
	db, err := buntdb.Open(cfg.Admin.DBPath)
	if err != nil {
		return nil, err
	}
	m := &adminMgr{db: db}
	if err := m.ensureDefaultAdmin(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// ensureDefaultAdmin seeds a single "admin"/"admin" account on first run so
// dsoctl is usable out of the box; operators are expected to rotate it.
func (m *adminMgr) ensureDefaultAdmin() error {
	err := m.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(userKey("admin"))
		return err
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, buntdb.ErrNotFound) {
		return err
	}
	return m.setPassword("admin", "admin")
}

func (m *adminMgr) setPassword(user, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return m.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(userKey(user), string(hash), nil)
		return err
	})
}

func (m *adminMgr) authenticate(user, password string) error {
	var hash string
	err := m.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(userKey(user))
		if err != nil {
			return err
		}
		hash = v
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return errBadCredentials
	}
	if err != nil {
		return fmt.Errorf("admin db: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return errBadCredentials
	}
	return nil
}

func (m *adminMgr) Close() error { return m.db.Close() }
