// JWT issuance/verification for dsoctl's bearer-token auth, grounded on the
// teacher's use of golang-jwt for AuthN tokens - same claims-plus-HMAC
// shape, narrowed to a single custom "user" claim since dsoctl has one role.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const tokenTTL = 2 * time.Hour

type claims struct {
	jwt.RegisteredClaims
	User string `json:"user"`
}

func issueToken(secret, user string) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		User: user,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString([]byte(secret))
}

func verifyToken(secret, raw string) (string, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return "", errors.New("invalid or expired token")
	}
	return c.User, nil
}
