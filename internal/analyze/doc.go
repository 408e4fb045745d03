// Package analyze derives trend estimates and baseline-deviation anomalies
// from the metric store. Trends compare the averages of two recent
// sub-windows; anomalies compare the latest short-window average against a
// slow-moving baseline and are banded by relative deviation.
package analyze
