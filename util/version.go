package util

const CollectorVersion = "0.1.0"

const CollectorNameAndVersion = "sqlserver-collector " + CollectorVersion
