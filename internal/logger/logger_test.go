// Copyright 2024 The cartfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const (
	textTraceString = `^time="[a-zA-Z0-9/:. ]{26}" severity=TRACE message="TestLogs: www.traceExample.com"`
	textDebugString = `^time="[a-zA-Z0-9/:. ]{26}" severity=DEBUG message="TestLogs: www.debugExample.com"`
	textInfoString  = `^time="[a-zA-Z0-9/:. ]{26}" severity=INFO message="TestLogs: www.infoExample.com"`
	textWarnString  = `^time="[a-zA-Z0-9/:. ]{26}" severity=WARNING message="TestLogs: www.warningExample.com"`
	textErrorString = `^time="[a-zA-Z0-9/:. ]{26}" severity=ERROR message="TestLogs: www.errorExample.com"`

	jsonTraceString = `^{"timestamp":{"seconds":\d{10},"nanos":\d{0,9}},"severity":"TRACE","message":"TestLogs: www.traceExample.com"}`
	jsonDebugString = `^{"timestamp":{"seconds":\d{10},"nanos":\d{0,9}},"severity":"DEBUG","message":"TestLogs: www.debugExample.com"}`
	jsonInfoString  = `^{"timestamp":{"seconds":\d{10},"nanos":\d{0,9}},"severity":"INFO","message":"TestLogs: www.infoExample.com"}`
	jsonWarnString  = `^{"timestamp":{"seconds":\d{10},"nanos":\d{0,9}},"severity":"WARNING","message":"TestLogs: www.warningExample.com"}`
	jsonErrorString = `^{"timestamp":{"seconds":\d{10},"nanos":\d{0,9}},"severity":"ERROR","message":"TestLogs: www.errorExample.com"}`
)

type LoggerTestSuite struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func redirectLogsToBuffer(buf *bytes.Buffer, level string) {
	var programLevel = new(slog.LevelVar)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(buf, programLevel, "TestLogs: "))
	setLoggingLevel(level, programLevel)
}

func collectOutputs(level string) []string {
	var buf bytes.Buffer
	redirectLogsToBuffer(&buf, level)

	fns := []func(){
		func() { Tracef("www.traceExample.com") },
		func() { Debugf("www.debugExample.com") },
		func() { Infof("www.infoExample.com") },
		func() { Warnf("www.warningExample.com") },
		func() { Errorf("www.errorExample.com") },
	}

	var out []string
	for _, f := range fns {
		f()
		out = append(out, buf.String())
		buf.Reset()
	}
	return out
}

func (s *LoggerTestSuite) assertOutputs(expected, actual []string) {
	s.T().Helper()
	for i := range actual {
		if expected[i] == "" {
			s.Equal(expected[i], actual[i])
			continue
		}
		s.Regexp(regexp.MustCompile(expected[i]), actual[i])
	}
}

func (s *LoggerTestSuite) collectAt(format, level string) []string {
	prevFormat := defaultLoggerFactory.format
	defaultLoggerFactory.format = format
	defer func() { defaultLoggerFactory.format = prevFormat }()
	return collectOutputs(level)
}

func (s *LoggerTestSuite) TestTextLogLevelOFF() {
	s.assertOutputs([]string{"", "", "", "", ""}, s.collectAt("text", SeverityOff))
}

func (s *LoggerTestSuite) TestTextLogLevelERROR() {
	s.assertOutputs([]string{"", "", "", "", textErrorString}, s.collectAt("text", SeverityError))
}

func (s *LoggerTestSuite) TestTextLogLevelWARNING() {
	s.assertOutputs([]string{"", "", "", textWarnString, textErrorString}, s.collectAt("text", SeverityWarning))
}

func (s *LoggerTestSuite) TestTextLogLevelINFO() {
	s.assertOutputs([]string{"", "", textInfoString, textWarnString, textErrorString}, s.collectAt("text", SeverityInfo))
}

func (s *LoggerTestSuite) TestTextLogLevelDEBUG() {
	s.assertOutputs([]string{"", textDebugString, textInfoString, textWarnString, textErrorString}, s.collectAt("text", SeverityDebug))
}

func (s *LoggerTestSuite) TestTextLogLevelTRACE() {
	s.assertOutputs([]string{textTraceString, textDebugString, textInfoString, textWarnString, textErrorString}, s.collectAt("text", SeverityTrace))
}

func (s *LoggerTestSuite) TestJSONLogLevelERROR() {
	s.assertOutputs([]string{"", "", "", "", jsonErrorString}, s.collectAt("json", SeverityError))
}

func (s *LoggerTestSuite) TestJSONLogLevelTRACE() {
	s.assertOutputs([]string{jsonTraceString, jsonDebugString, jsonInfoString, jsonWarnString, jsonErrorString}, s.collectAt("json", SeverityTrace))
}

func TestSetLoggingLevel(t *testing.T) {
	cases := []struct {
		severity string
		want     slog.Level
	}{
		{SeverityTrace, LevelTrace},
		{SeverityDebug, slog.LevelDebug},
		{SeverityInfo, slog.LevelInfo},
		{SeverityWarning, slog.LevelWarn},
		{SeverityError, slog.LevelError},
		{SeverityOff, LevelOff},
	}
	for _, c := range cases {
		lv := new(slog.LevelVar)
		setLoggingLevel(c.severity, lv)
		assert.Equal(t, c.want, lv.Level())
	}
}
