package learn

// defaultKnowledgeBase seeds the learner with the stock playbooks for the
// four threat families the platform responds to.
func defaultKnowledgeBase() KnowledgeBase {
	return KnowledgeBase{
		ThreatSignatures: ThreatSignatures{
			MaliciousProcesses:  map[string]ProcessSignature{},
			SuspiciousPatterns:  map[string]PatternSignature{},
			NetworkIndicators:   map[string]PatternSignature{},
			BehavioralAnomalies: map[string]PatternSignature{},
		},
		ResponsePlaybooks: map[string]Playbook{
			"ransomware": ransomwarePlaybook(),
			"trojan":     trojanPlaybook(),
			"worm":       wormPlaybook(),
			"miner":      minerPlaybook(),
		},
		OptimizationRules: OptimizationRules{
			ThresholdAdjustments: map[string]string{},
			PatternWeights:       map[string]float64{},
			ResponsePriorities:   map[string]string{},
		},
	}
}

func ransomwarePlaybook() Playbook {
	return Playbook{
		ImmediateActions: []string{
			"isolate_network",
			"kill_malicious_process",
			"lock_file_system",
			"trigger_emergency_backup",
		},
		ContainmentActions: []string{
			"block_smb_sharing",
			"disable_remote_services",
			"enable_file_protection",
			"alert_security_team",
		},
		RecoveryActions: []string{
			"restore_from_backup",
			"scan_for_persistence",
			"validate_system_integrity",
			"update_security_policies",
		},
		PreventionEnhancements: []string{
			"enhance_file_monitoring",
			"strict_process_whitelisting",
			"network_segmentation",
			"backup_verification",
		},
	}
}

func trojanPlaybook() Playbook {
	return Playbook{
		ImmediateActions: []string{
			"isolate_system",
			"terminate_suspicious_processes",
			"block_outbound_connections",
			"collect_forensic_data",
		},
		ContainmentActions: []string{
			"enable_process_monitoring",
			"scan_for_persistence",
			"check_network_connections",
			"analyze_startup_items",
		},
		RecoveryActions: []string{
			"remove_malicious_files",
			"clean_registry_entries",
			"update_security_software",
			"system_integrity_check",
		},
		PreventionEnhancements: []string{
			"enhance_execution_control",
			"application_whitelisting",
			"network_traffic_analysis",
			"user_behavior_monitoring",
		},
	}
}

func wormPlaybook() Playbook {
	return Playbook{
		ImmediateActions: []string{
			"network_wide_alert",
			"block_lateral_movement",
			"isolate_infected_segments",
			"enable_aggressive_monitoring",
		},
		ContainmentActions: []string{
			"patch_vulnerabilities",
			"update_security_rules",
			"monitor_network_traffic",
			"scan_all_systems",
		},
		RecoveryActions: []string{
			"clean_infected_systems",
			"validate_network_security",
			"update_access_controls",
			"security_policy_review",
		},
		PreventionEnhancements: []string{
			"vulnerability_management",
			"network_segmentation",
			"intrusion_detection_rules",
			"regular_security_assessments",
		},
	}
}

func minerPlaybook() Playbook {
	return Playbook{
		ImmediateActions: []string{
			"kill_mining_processes",
			"block_mining_pool_ips",
			"reduce_system_load",
			"analyze_resource_usage",
		},
		ContainmentActions: []string{
			"monitor_cpu_usage",
			"block_suspicious_ports",
			"scan_for_mining_software",
			"check_system_performance",
		},
		RecoveryActions: []string{
			"remove_mining_software",
			"clean_system_files",
			"optimize_performance",
			"update_resource_monitoring",
		},
		PreventionEnhancements: []string{
			"resource_usage_monitoring",
			"network_traffic_analysis",
			"process_behavior_analysis",
			"system_performance_baselines",
		},
	}
}
