// Package models contains the GORM persistence models for the points engine.
// Domain types stay free of ORM tags; each model converts with ToDomain/FromDomain.
//
// Tables:
//   - points_rules, points_campaigns, points_campaign_rules, points_risk_rules
//   - points_ledger, points_members, points_counters, points_blacklist
//   - points_grant_tasks, points_decisions
//   - outbox_events
package models
