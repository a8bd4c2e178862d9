package catalog

// QuickQuery is a canned query shown to new users.
type QuickQuery struct {
	Label string
	Table string
	SQL   string
}

var defaultQueries = map[string]string{
	"personal_info": "SELECT * FROM personal_info;",
	"skills":        "SELECT * FROM skills ORDER BY proficiency DESC;",
	"blogs":         "SELECT * FROM blogs ORDER BY published_date DESC;",
	"experience":    "SELECT * FROM experience ORDER BY start_date DESC;",
}

// DefaultQuery returns the starter query for a table. Tables without a
// tailored query get a plain SELECT *.
func DefaultQuery(table string) string {
	if q, ok := defaultQueries[table]; ok {
		return q
	}
	return "SELECT * FROM " + table + ";"
}

// QuickQueries returns the canned exploration queries.
func QuickQueries() []QuickQuery {
	return []QuickQuery{
		{Label: "Backend skills", Table: "skills", SQL: "SELECT skill FROM skills WHERE category = 'Backend';"},
		{Label: "Top blogs", Table: "blogs", SQL: "SELECT title, views FROM blogs ORDER BY views DESC LIMIT 5;"},
		{Label: "Career timeline", Table: "experience", SQL: "SELECT company, position, start_date, end_date FROM experience ORDER BY start_date DESC;"},
		{Label: "Skills per category", Table: "skills", SQL: "SELECT category, COUNT(*) AS total FROM skills GROUP BY category ORDER BY total DESC;"},
	}
}
