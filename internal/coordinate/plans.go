package coordinate

import "github.com/quadshield/quadshield/internal/model"

// The three containment plans are fixed command bundles. Agents interpret
// the command names; the center only chooses which bundle to send.

func aggressiveContainmentPlan() model.ResponsePlan {
	return model.ResponsePlan{
		ResponseLevel: model.TierAggressive,
		Duration:      "emergency_1hour",
		InfectedAgentCommands: []string{
			"maintain_full_isolation",
			"begin_forensic_collection",
			"prepare_deep_scan_recovery",
			"do_not_reconnect_network",
		},
		ExposedAgentCommands: []string{
			"block_all_inbound_traffic",
			"enable_maximum_zero_trust",
			"lock_all_sensitive_directories",
			"trigger_immediate_backup",
			"enable_process_whitelisting",
		},
		NetworkWideCommands: []string{
			"block_p2p_communications",
			"isolate_affected_network_segments",
			"enable_enterprise_protection_mode",
			"alert_security_team_immediately",
		},
		Communication: model.CommunicationProtocol{
			UpdatesEvery:     "2_minutes",
			StatusReports:    "every_5_minutes",
			EscalationPoints: []string{"CISO", "Network_Admin", "Security_Team"},
		},
	}
}

func targetedContainmentPlan() model.ResponsePlan {
	return model.ResponsePlan{
		ResponseLevel: model.TierTargeted,
		Duration:      "enhanced_4hours",
		InfectedAgentCommands: []string{
			"restrict_network_access",
			"enable_enhanced_monitoring",
			"backup_critical_files",
			"scan_for_persistence",
		},
		ExposedAgentCommands: []string{
			"block_suspicious_protocols",
			"enable_enhanced_protection",
			"monitor_lateral_movement",
			"increase_logging_verbosity",
		},
		NetworkWideCommands: []string{
			"monitor_cross_segment_traffic",
			"alert_related_departments",
			"enable_selective_isolation",
		},
		Communication: model.CommunicationProtocol{
			UpdatesEvery:     "5_minutes",
			StatusReports:    "every_15_minutes",
			EscalationPoints: []string{"Security_Team", "Department_Head"},
		},
	}
}

func enhancedMonitoringPlan() model.ResponsePlan {
	return model.ResponsePlan{
		ResponseLevel: model.TierMonitoring,
		Duration:      "monitoring_24hours",
		InfectedAgentCommands: []string{
			"increase_security_logging",
			"monitor_process_activity",
			"report_suspicious_behavior",
			"maintain_normal_operations",
		},
		ExposedAgentCommands: []string{
			"enable_preventive_protection",
			"monitor_for_similar_patterns",
			"ready_isolation_protocols",
		},
		NetworkWideCommands: []string{
			"continue_normal_operations",
			"monitor_network_health",
		},
		Communication: model.CommunicationProtocol{
			UpdatesEvery:     "15_minutes",
			StatusReports:    "every_hour",
			EscalationPoints: []string{"Security_Team"},
		},
	}
}
