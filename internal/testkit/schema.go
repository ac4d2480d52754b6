package testkit

// Schema creates the tables of the test entities
var Schema = []string{
	`CREATE TABLE team (
		team_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE member (
		member_id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		age INTEGER NOT NULL DEFAULT 0,
		team_id INTEGER REFERENCES team(team_id)
	)`,
	`CREATE TABLE tag (
		tag_id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL
	)`,
	`CREATE TABLE member_tag (
		member_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		PRIMARY KEY (member_id, tag_id)
	)`,
	`CREATE TABLE item (
		item_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_date DATETIME
	)`,
}
