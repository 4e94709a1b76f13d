package mysql

// Troubleshooting hints keyed by MySQL server error number.
var storeHints = map[uint16][]string{
	1044: {"the database user lacks privileges on this schema", "ask for SELECT grants or query another schema"},
	1045: {"the store rejected the credentials", "check the configured user and password"},
	1052: {"a column name is ambiguous across joined tables", "qualify the column with its table alias"},
	1054: {"a referenced column does not exist", "call describe_table to list the real column names"},
	1055: {"ONLY_FULL_GROUP_BY rejected a non-aggregated column", "add the column to GROUP BY or wrap it in ANY_VALUE() / an aggregate"},
	1064: {"the statement has a MySQL syntax error", "check for dialect-specific syntax near the reported position"},
	1142: {"the database user lacks privileges on this table", "query a table the user can read"},
	1146: {"a referenced table does not exist", "call list_tables to see the available tables"},
	1292: {"a value could not be converted to the column type", "compare dates and numbers with correctly typed literals or CAST()"},
	1366: {"a value could not be converted to the column type", "check string to number or date conversions"},
	3024: {"the statement exceeded the maximum execution time", "add selective WHERE filters, a smaller LIMIT, or an index-friendly predicate"},
}

func hintsFor(number uint16) []string {
	if hints, ok := storeHints[number]; ok {
		return append([]string(nil), hints...)
	}
	return []string{"the store rejected the statement; review the error message"}
}
