package templates

import (
	"github.com/workflowcore/orchestrator/pkg/graph"
)

func toolCall(name, service, tool string, in, out map[string]string) graph.NodeSpec {
	return graph.NodeSpec{Name: name, Kind: graph.KindToolCall, Service: service, Tool: tool, InputMapping: in, OutputMapping: out}
}

func chainEdges(order []string) []graph.Edge {
	edges := make([]graph.Edge, 0, len(order))
	for i, name := range order {
		to := graph.Terminal
		if i+1 < len(order) {
			to = order[i+1]
		}
		edges = append(edges, graph.Edge{From: name, To: to})
	}
	return edges
}

// documentAnalysisDefinition wires fetch_document -> analyze_document ->
// store_results -> notify_stakeholders, grounded on the document-analysis
// workflow's node sequence.
func documentAnalysisDefinition() graph.WorkflowDefinition {
	order := []string{"fetch_document", "analyze_document", "store_results", "notify_stakeholders"}
	nodes := map[string]graph.NodeSpec{
		"fetch_document": toolCall("fetch_document", "doc_store", "get_document",
			map[string]string{"doc_id": "document_id"},
			map[string]string{"content": "content"}),
		"analyze_document": toolCall("analyze_document", "analyzer", "summarize_document",
			map[string]string{"content": "content", "analysis_type": "analysis_type"},
			map[string]string{"summary": "summary", "key_concepts": "key_concepts", "consistency_analysis": "consistency_analysis"}),
		"store_results": toolCall("store_results", "doc_store", "store_document",
			map[string]string{"summary": "summary"},
			map[string]string{"stored_analysis_id": "stored_id"}),
		"notify_stakeholders": toolCall("notify_stakeholders", "notifier", "send_notification",
			map[string]string{"stored_analysis_id": "stored_analysis_id"},
			nil),
	}
	return graph.WorkflowDefinition{
		Name:       "document_analysis",
		Version:    "1",
		EntryPoint: "fetch_document",
		Nodes:      nodes,
		Edges:      chainEdges(order),
		ParameterSchema: map[string]graph.ParamSpec{
			"document_id":   {Type: graph.TypeString, Required: true},
			"analysis_type": {Type: graph.TypeString, Required: false, Default: "quality"},
		},
	}
}

// prConfidenceAnalysisDefinition wires the ten-node sequence scoring a PR
// against requirements and documentation.
func prConfidenceAnalysisDefinition() graph.WorkflowDefinition {
	order := []string{
		"extract_pr_context", "fetch_jira", "fetch_confluence", "align_requirements",
		"check_docs", "score", "identify_gaps", "recommend", "report", "notify",
	}
	nodes := map[string]graph.NodeSpec{
		"extract_pr_context": toolCall("extract_pr_context", "source_control", "get_pull_request",
			map[string]string{"repo": "repo", "pr_number": "pr_number"},
			map[string]string{"pr_context": "pr_context"}),
		"fetch_jira": toolCall("fetch_jira", "jira", "ingest_jira_issues",
			map[string]string{"project_key": "project_key"},
			map[string]string{"jira_issues": "jira_issues"}),
		"fetch_confluence": toolCall("fetch_confluence", "confluence", "search_documents",
			map[string]string{"query": "confluence_query"},
			map[string]string{"confluence_docs": "confluence_docs"}),
		"align_requirements": toolCall("align_requirements", "analyzer", "analyze_document_consistency",
			map[string]string{"pr_context": "pr_context", "jira_issues": "jira_issues"},
			map[string]string{"alignment": "alignment"}),
		"check_docs": toolCall("check_docs", "analyzer", "analyze_codebase",
			map[string]string{"confluence_docs": "confluence_docs"},
			map[string]string{"doc_coverage": "doc_coverage"}),
		"score": toolCall("score", "analyzer", "generate_quality_report",
			map[string]string{"alignment": "alignment", "doc_coverage": "doc_coverage"},
			map[string]string{"confidence_score": "confidence_score"}),
		"identify_gaps": toolCall("identify_gaps", "analyzer", "extract_key_concepts",
			map[string]string{"alignment": "alignment"},
			map[string]string{"gaps": "gaps"}),
		"recommend": toolCall("recommend", "prompt_store", "get_optimal_prompt",
			map[string]string{"gaps": "gaps"},
			map[string]string{"recommendations": "recommendations"}),
		"report": toolCall("report", "doc_store", "store_document",
			map[string]string{"confidence_score": "confidence_score", "recommendations": "recommendations"},
			map[string]string{"report_id": "report_id"}),
		"notify": toolCall("notify", "notifier", "send_notification",
			map[string]string{"report_id": "report_id"},
			nil),
	}
	return graph.WorkflowDefinition{
		Name:       "pr_confidence_analysis",
		Version:    "1",
		EntryPoint: "extract_pr_context",
		Nodes:      nodes,
		Edges:      chainEdges(order),
		ParameterSchema: map[string]graph.ParamSpec{
			"repo":             {Type: graph.TypeString, Required: true},
			"pr_number":        {Type: graph.TypeNumber, Required: true},
			"project_key":      {Type: graph.TypeString, Required: true},
			"confluence_query": {Type: graph.TypeString, Required: false, Default: ""},
		},
	}
}

// endToEndTestDefinition wires the nine-node ecosystem exercise.
func endToEndTestDefinition() graph.WorkflowDefinition {
	order := []string{
		"generate_mock_data", "store_documents", "prepare_analysis", "analyze",
		"store_results", "summarize", "unify", "final_report", "cleanup",
	}
	nodes := map[string]graph.NodeSpec{
		"generate_mock_data": toolCall("generate_mock_data", "mock_data", "generate",
			map[string]string{"seed": "seed"},
			map[string]string{"documents": "documents"}),
		"store_documents": toolCall("store_documents", "doc_store", "store_document",
			map[string]string{"documents": "documents"},
			map[string]string{"doc_ids": "doc_ids"}),
		"prepare_analysis": toolCall("prepare_analysis", "analyzer", "extract_functions",
			map[string]string{"doc_ids": "doc_ids"},
			map[string]string{"analysis_inputs": "analysis_inputs"}),
		"analyze": toolCall("analyze", "analyzer", "summarize_document",
			map[string]string{"analysis_inputs": "analysis_inputs"},
			map[string]string{"analysis_results": "analysis_results"}),
		"store_results": toolCall("store_results", "doc_store", "store_document",
			map[string]string{"analysis_results": "analysis_results"},
			map[string]string{"stored_result_id": "stored_result_id"}),
		"summarize": toolCall("summarize", "analyzer", "generate_quality_report",
			map[string]string{"stored_result_id": "stored_result_id"},
			map[string]string{"summary": "summary"}),
		"unify": toolCall("unify", "prompt_store", "get_optimal_prompt",
			map[string]string{"summary": "summary"},
			map[string]string{"unified_view": "unified_view"}),
		"final_report": toolCall("final_report", "doc_store", "store_document",
			map[string]string{"unified_view": "unified_view"},
			map[string]string{"final_report_id": "final_report_id"}),
		"cleanup": toolCall("cleanup", "mock_data", "cleanup",
			map[string]string{"doc_ids": "doc_ids"},
			nil),
	}
	return graph.WorkflowDefinition{
		Name:       "end_to_end_test",
		Version:    "1",
		EntryPoint: "generate_mock_data",
		Nodes:      nodes,
		Edges:      chainEdges(order),
		ParameterSchema: map[string]graph.ParamSpec{
			"seed": {Type: graph.TypeString, Required: false, Default: "default"},
		},
	}
}

// RegisterBuiltins registers the three required templates into l.
func RegisterBuiltins(l *Library) error {
	if err := l.Register("Analyze a document end-to-end: fetch, analyze, store, notify.", documentAnalysisDefinition()); err != nil {
		return err
	}
	if err := l.Register("Score a pull request against linked requirements and documentation.", prConfidenceAnalysisDefinition()); err != nil {
		return err
	}
	if err := l.Register("Exercise the full downstream ecosystem end to end.", endToEndTestDefinition()); err != nil {
		return err
	}
	return nil
}
