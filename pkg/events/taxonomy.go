package events

// Kind identifies the shape of a recorded event
type Kind string

const (
	KindUiInteraction     Kind = "ui_interaction"
	KindWorkerTaskSuccess Kind = "worker_task_success"
	KindWorkerTaskFailure Kind = "worker_task_failure"
	KindApiCallSuccess    Kind = "api_call_success"
	KindApiCallFailure    Kind = "api_call_failure"
	KindRpcCallSuccess    Kind = "rpc_call_success"
	KindRpcCallFailure    Kind = "rpc_call_failure"
)

// Kinds lists every recordable kind in a stable order
var Kinds = []Kind{
	KindUiInteraction,
	KindWorkerTaskSuccess,
	KindWorkerTaskFailure,
	KindApiCallSuccess,
	KindApiCallFailure,
	KindRpcCallSuccess,
	KindRpcCallFailure,
}

// IsFailure reports whether events of this kind carry an error classification
func (k Kind) IsFailure() bool {
	switch k {
	case KindWorkerTaskFailure, KindApiCallFailure, KindRpcCallFailure:
		return true
	}
	return false
}

// IsValid reports whether k is one of the known kinds
func (k Kind) IsValid() bool {
	_, ok := subtypeSets[k]
	return ok
}

// UiEventType identifies a user interaction
type UiEventType string

const (
	UiOnboardingOptIn         UiEventType = "onboarding_opt_in"
	UiOnboardingOptOut        UiEventType = "onboarding_opt_out"
	UiOnboardingPermissionOff UiEventType = "onboarding_permission_disabled"
	UiShareDiagnosisStarted   UiEventType = "share_diagnosis_started"
	UiShareDiagnosisSubmitted UiEventType = "share_diagnosis_submitted"
	UiShareApp                UiEventType = "share_app"
	UiExposureDetailsOpened   UiEventType = "exposure_details_opened"
	UiPrivacyPolicyOpened     UiEventType = "privacy_policy_opened"
	UiAppAnalyticsToggled     UiEventType = "app_analytics_toggled"
	UiSettingsOpened          UiEventType = "settings_opened"
)

// WorkerTask identifies a background task
type WorkerTask string

const (
	TaskProvideDiagnosisKeys  WorkerTask = "provide_diagnosis_keys"
	TaskStateUpdated          WorkerTask = "state_updated"
	TaskCountryChecking       WorkerTask = "country_checking"
	TaskDeleteOldData         WorkerTask = "delete_old_data"
	TaskSubmitAnalyticsBatch  WorkerTask = "submit_analytics_batch"
	TaskSubmitPrivateAnalytic WorkerTask = "submit_private_analytics"
	TaskRefreshRemoteConfig   WorkerTask = "refresh_remote_config"
)

// ApiCallType identifies a call into the platform exposure notification API
type ApiCallType string

const (
	CallStart                          ApiCallType = "start"
	CallStop                           ApiCallType = "stop"
	CallIsEnabled                      ApiCallType = "is_enabled"
	CallGetStatus                      ApiCallType = "get_status"
	CallGetVersion                     ApiCallType = "get_version"
	CallGetTemporaryExposureKeyHistory ApiCallType = "get_temporary_exposure_key_history"
	CallProvideDiagnosisKeys           ApiCallType = "provide_diagnosis_keys"
	CallGetExposureWindows             ApiCallType = "get_exposure_windows"
	CallGetDailySummaries              ApiCallType = "get_daily_summaries"
	CallSetDiagnosisKeysDataMapping    ApiCallType = "set_diagnosis_keys_data_mapping"
)

// RpcCallType identifies a network RPC to a backend service
type RpcCallType string

const (
	RpcKeysUpload        RpcCallType = "keys_upload"
	RpcKeysDownload      RpcCallType = "keys_download"
	RpcVerifyCode        RpcCallType = "verify_code"
	RpcVerifyCertificate RpcCallType = "verify_certificate"
	RpcRemoteConfigFetch RpcCallType = "remote_config_fetch"
	RpcAnalyticsUpload   RpcCallType = "analytics_upload"
)

var (
	uiEventTypes = newSet(
		UiOnboardingOptIn, UiOnboardingOptOut, UiOnboardingPermissionOff,
		UiShareDiagnosisStarted, UiShareDiagnosisSubmitted, UiShareApp,
		UiExposureDetailsOpened, UiPrivacyPolicyOpened, UiAppAnalyticsToggled,
		UiSettingsOpened,
	)
	workerTasks = newSet(
		TaskProvideDiagnosisKeys, TaskStateUpdated, TaskCountryChecking,
		TaskDeleteOldData, TaskSubmitAnalyticsBatch, TaskSubmitPrivateAnalytic,
		TaskRefreshRemoteConfig,
	)
	apiCallTypes = newSet(
		CallStart, CallStop, CallIsEnabled, CallGetStatus, CallGetVersion,
		CallGetTemporaryExposureKeyHistory, CallProvideDiagnosisKeys,
		CallGetExposureWindows, CallGetDailySummaries, CallSetDiagnosisKeysDataMapping,
	)
	rpcCallTypes = newSet(
		RpcKeysUpload, RpcKeysDownload, RpcVerifyCode, RpcVerifyCertificate,
		RpcRemoteConfigFetch, RpcAnalyticsUpload,
	)

	subtypeSets = map[Kind]map[string]struct{}{
		KindUiInteraction:     uiEventTypes,
		KindWorkerTaskSuccess: workerTasks,
		KindWorkerTaskFailure: workerTasks,
		KindApiCallSuccess:    apiCallTypes,
		KindApiCallFailure:    apiCallTypes,
		KindRpcCallSuccess:    rpcCallTypes,
		KindRpcCallFailure:    rpcCallTypes,
	}
)

func newSet[T ~string](values ...T) map[string]struct{} {
	s := make(map[string]struct{}, len(values))
	for _, v := range values {
		s[string(v)] = struct{}{}
	}
	return s
}

// IsValid reports whether t is a known UI event type
func (t UiEventType) IsValid() bool { return has(uiEventTypes, string(t)) }

// IsValid reports whether t is a known worker task
func (t WorkerTask) IsValid() bool { return has(workerTasks, string(t)) }

// IsValid reports whether t is a known API call type
func (t ApiCallType) IsValid() bool { return has(apiCallTypes, string(t)) }

// IsValid reports whether t is a known RPC call type
func (t RpcCallType) IsValid() bool { return has(rpcCallTypes, string(t)) }

func has(set map[string]struct{}, v string) bool {
	_, ok := set[v]
	return ok
}
