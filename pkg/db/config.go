package db

// Config carries connection settings for Dialect and Open. For sqlite,
// Name is the database file path (or a file: DSN) and the network fields
// are ignored.
type Config struct {
	Type            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}
