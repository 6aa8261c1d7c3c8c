package sqlserver

// QueryMarkerSQL gets prepended to all statements the collector runs, so they
// can be recognized (and filtered out) in activity data
const QueryMarkerSQL = "/* sqlserver-collector */ "

// One row per combination of login, session status and database, counting the user sessions
const connectionsSQL string = `
SELECT
		login_name AS user_name,
		COUNT(session_id) AS connections,
		status,
		DB_NAME(database_id) AS database_name
	FROM sys.dm_exec_sessions
 WHERE is_user_process = 1
 GROUP BY login_name, status, DB_NAME(database_id)`

// One row per open transaction and session, with the session's current request
// (if any) and the text of the most recent statement on its connection.
//
// The set of columns from sys.dm_exec_requests differs between server versions,
// which is why the result is read as an open column mapping.
const activitySQL string = `
SELECT
		at.transaction_begin_time,
		at.transaction_type,
		at.transaction_state,
		sess.login_name AS user_name,
		DB_NAME(sess.database_id) AS database_name,
		sess.status AS status,
		text.text AS text,
		c.client_tcp_port AS client_port,
		c.client_net_address AS client_address,
		sess.host_name AS host_name,
		sess.session_id AS session_id,
		r.*
	FROM sys.dm_tran_active_transactions at
			 INNER JOIN sys.dm_tran_session_transactions st ON st.transaction_id = at.transaction_id
			 LEFT OUTER JOIN sys.dm_exec_sessions sess ON st.session_id = sess.session_id
			 LEFT OUTER JOIN sys.dm_exec_connections c ON sess.session_id = c.session_id
			 LEFT OUTER JOIN sys.dm_exec_requests r ON c.connection_id = r.connection_id
			 CROSS APPLY sys.dm_exec_sql_text(c.most_recent_sql_handle) text`

const activityOrderSQL string = "ORDER BY at.transaction_begin_time ASC"

// Sessions without a running request whose transaction began more than the
// collection interval before the watermark were already reported earlier
const activityExcludeIdleSQL string = "WHERE NOT (r.session_id IS NULL AND DATEDIFF(second, at.transaction_begin_time, '%s') > %s)"
