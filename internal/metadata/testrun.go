package metadata

// Test metadata versions.
const (
	TestV1 = 1
	TestV2 = 2
)

var testV1Rules = []rule{
	literalRule("version", func() any { return float64(TestV1) }),
	envRule("title", "RECORD_REPLAY_METADATA_TEST_TITLE"),
	literalRule("reporterErrors", emptyList),
	literalRule("run", emptyObject),
	runIDRule("run.id",
		"REPLAY_METADATA_TEST_RUN_ID",
		"RECORD_REPLAY_METADATA_TEST_RUN_ID",
		"RECORD_REPLAY_TEST_RUN_ID",
	),
	envRule("run.title", "RECORD_REPLAY_METADATA_TEST_RUN_TITLE"),
	envRule("run.mode", "REPLAY_METADATA_TEST_RUN_MODE", "RECORD_REPLAY_METADATA_TEST_RUN_MODE"),
	literalRule("runner", emptyObject),
	envRule("runner.name", "RECORD_REPLAY_METADATA_TEST_RUNNER"),
}

var testV2Rules = []rule{
	literalRule("run", emptyObject),
	runIDRule("run.id",
		"REPLAY_METADATA_TEST_RUN_ID",
		"RECORD_REPLAY_METADATA_TEST_RUN_ID",
		"RECORD_REPLAY_TEST_RUN_ID",
	),
	envRule("run.title", "REPLAY_METADATA_TEST_RUN_TITLE", "RECORD_REPLAY_METADATA_TEST_RUN_TITLE"),
	envRule("run.mode", "REPLAY_METADATA_TEST_RUN_MODE", "RECORD_REPLAY_METADATA_TEST_RUN_MODE"),
	literalRule("environment.errors", emptyList),
	literalRule("tests.*.error", null),
	literalRule("tests.*.events.beforeAll", emptyList),
	literalRule("tests.*.events.beforeEach", emptyList),
	literalRule("tests.*.events.main", emptyList),
	literalRule("tests.*.events.afterEach", emptyList),
	literalRule("tests.*.events.afterAll", emptyList),
}

// TestRegistry returns the registry for test run metadata, stored under the
// "test" key of a recording's metadata.
func TestRegistry(opts ...Option) *Registry {
	return newRegistry("test", []versionSpec{
		{version: TestV1, file: "test-v1.schema.json", rules: testV1Rules},
		{version: TestV2, file: "test-v2.schema.json", rules: testV2Rules},
	}, opts...)
}
