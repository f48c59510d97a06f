package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// Upper bound for any single session store statement
const DBQueryTimeout = 5 * time.Second

// HTTP server timeouts
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 30 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Login throttling per client IP
const (
	LoginMaxAttempts = 5
	LoginWindow      = time.Minute
)

// bcrypt cost used when seeding or hashing passwords
const PasswordHashCost = 12

// Shortest password accepted for the bootstrap admin
const MinBootstrapPasswordLength = 8
