package junit

// Censorer replaces secret values in data.
type Censorer interface {
	Censor(data *[]byte)
}

// CensorTestSuite censors secret data in the free-form fields of a jUnit test suite.
func CensorTestSuite(censor Censorer, testSuite *TestSuite) {
	if testSuite == nil {
		return
	}
	testSuite.Name = censored(censor, testSuite.Name)
	for _, property := range testSuite.Properties {
		property.Name = censored(censor, property.Name)
		property.Value = censored(censor, property.Value)
	}
	for _, testCase := range testSuite.TestCases {
		testCase.Name = censored(censor, testCase.Name)
		if testCase.SkipMessage != nil {
			testCase.SkipMessage.Message = censored(censor, testCase.SkipMessage.Message)
		}
		if testCase.FailureOutput != nil {
			testCase.FailureOutput.Output = censored(censor, testCase.FailureOutput.Output)
			testCase.FailureOutput.Message = censored(censor, testCase.FailureOutput.Message)
		}
		testCase.SystemOut = censored(censor, testCase.SystemOut)
		testCase.SystemErr = censored(censor, testCase.SystemErr)
	}
	for _, child := range testSuite.Children {
		CensorTestSuite(censor, child)
	}
}

// CensorTestSuites censors every suite of the collection.
func CensorTestSuites(censor Censorer, suites *TestSuites) {
	if suites == nil {
		return
	}
	for _, suite := range suites.Suites {
		CensorTestSuite(censor, suite)
	}
}

func censored(censor Censorer, value string) string {
	if value == "" {
		return value
	}
	raw := []byte(value)
	censor.Censor(&raw)
	return string(raw)
}
