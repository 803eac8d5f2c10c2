package progress

// defaultPhase buckets any tool not named in defaultPhaseTable.
const defaultPhase = "investigation"

// defaultPhaseTable maps a tool name to the coarse progress phase it
// belongs to, per spec.md §4.K / GLOSSARY "Phase". Kubernetes tools are
// grounded on pkg/gateway's closed command set (spec.md §4.H); the
// knowledge-retrieval tools are grounded on pkg/ragcache's Search/Answer/
// FederatedSearch operations (spec.md §4.J).
var defaultPhaseTable = map[string]string{
	"list_pods":             "kubernetes_diagnostics",
	"get_pod_logs":          "kubernetes_diagnostics",
	"describe_pod":          "kubernetes_diagnostics",
	"get_pod_events":        "kubernetes_diagnostics",
	"describe_deployment":   "kubernetes_diagnostics",
	"list_namespaces":       "kubernetes_diagnostics",
	"search_knowledge_base": "knowledge_retrieval",
	"answer_question":       "knowledge_retrieval",
	"federated_search":      "knowledge_retrieval",
	"search_runbooks":       "runbook_lookup",
	"AskUserQuestion":       "clarification",
}
