package metadata

// SourceV1 is the only source control metadata version.
const SourceV1 = 1

var sourceV1Rules = []rule{
	literalRule("version", func() any { return float64(SourceV1) }),
	envRule("branch",
		"REPLAY_METADATA_SOURCE_BRANCH",
		"RECORD_REPLAY_METADATA_SOURCE_BRANCH",
		"GITHUB_HEAD_REF",
		"GITHUB_REF_NAME",
		"BUILDKITE_BRANCH",
		"CIRCLE_BRANCH",
		"SEMAPHORE_GIT_PR_BRANCH",
		"SEMAPHORE_GIT_BRANCH",
	),
	envRule("provider", "REPLAY_METADATA_SOURCE_PROVIDER", "RECORD_REPLAY_METADATA_SOURCE_PROVIDER"),
	envRule("repository",
		"REPLAY_METADATA_SOURCE_REPOSITORY",
		"RECORD_REPLAY_METADATA_SOURCE_REPOSITORY",
		"GITHUB_REPOSITORY",
		"BUILDKITE_REPO",
		"CIRCLE_PROJECT_REPONAME",
		"SEMAPHORE_GIT_REPO_SLUG",
	),
	envRule("commit.id",
		"REPLAY_METADATA_SOURCE_COMMIT_ID",
		"RECORD_REPLAY_METADATA_SOURCE_COMMIT_ID",
		"GITHUB_SHA",
		"BUILDKITE_COMMIT",
		"CIRCLE_SHA1",
		"SEMAPHORE_GIT_SHA",
	),
	envRule("commit.title",
		"REPLAY_METADATA_SOURCE_COMMIT_TITLE",
		"RECORD_REPLAY_METADATA_SOURCE_COMMIT_TITLE",
		"BUILDKITE_MESSAGE",
	),
	envRule("commit.url", "REPLAY_METADATA_SOURCE_COMMIT_URL", "RECORD_REPLAY_METADATA_SOURCE_COMMIT_URL"),
	envRule("commit.user",
		"REPLAY_METADATA_SOURCE_COMMIT_USER",
		"RECORD_REPLAY_METADATA_SOURCE_COMMIT_USER",
		"GITHUB_ACTOR",
		"BUILDKITE_BUILD_CREATOR",
		"CIRCLE_USERNAME",
	),
	envRule("merge.id",
		"REPLAY_METADATA_SOURCE_MERGE_ID",
		"RECORD_REPLAY_METADATA_SOURCE_MERGE_ID",
		"BUILDKITE_PULL_REQUEST",
		"SEMAPHORE_GIT_PR_NUMBER",
	),
	envRule("merge.title", "REPLAY_METADATA_SOURCE_MERGE_TITLE", "RECORD_REPLAY_METADATA_SOURCE_MERGE_TITLE", "SEMAPHORE_GIT_PR_NAME"),
	envRule("merge.url", "REPLAY_METADATA_SOURCE_MERGE_URL", "RECORD_REPLAY_METADATA_SOURCE_MERGE_URL"),
	envRule("merge.user", "REPLAY_METADATA_SOURCE_MERGE_USER", "RECORD_REPLAY_METADATA_SOURCE_MERGE_USER"),
	envRule("trigger.name", "REPLAY_METADATA_SOURCE_TRIGGER_NAME", "GITHUB_EVENT_NAME", "BUILDKITE_SOURCE"),
	envRule("trigger.workflow", "REPLAY_METADATA_SOURCE_TRIGGER_WORKFLOW", "GITHUB_WORKFLOW", "BUILDKITE_PIPELINE_SLUG"),
}

// SourceRegistry returns the registry for source control metadata, stored
// under the "source" key of a recording's metadata. Most fields come from
// the CI provider's environment.
func SourceRegistry(opts ...Option) *Registry {
	return newRegistry("source", []versionSpec{
		{version: SourceV1, file: "source-v1.schema.json", rules: sourceV1Rules},
	}, opts...)
}
