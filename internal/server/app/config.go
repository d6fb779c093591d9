package app

type Config struct {
	ListenAddr string
	// DBDriver 取 duckdb 或 sqlite
	DBDriver      string
	DBPath        string
	BlacklistFile string
	SettingsFile  string
}
