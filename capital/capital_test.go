package capital

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"tabular/qinfo"
)

func TestNewUnknownType(t *testing.T) {
	Convey("An unknown capital_type fails at construction", t, func() {
		_, err := New("bogus")
		So(err, ShouldNotBeNil)
	})
}

func TestReturnValueClock(t *testing.T) {
	Convey("Given a return_value clock", t, func() {
		c, err := New(ReturnValue)
		So(err, ShouldBeNil)
		c.Init()

		Convey("SetSpent/Spent round-trip", func() {
			c.SetSpent(3.5)
			So(c.Spent(), ShouldEqual, 3.5)
		})
	})
}

func TestUpdateCapitalReturnValue(t *testing.T) {
	Convey("Given a batch of qinfos dispatched at known send times", t, func() {
		qinfos := []*qinfo.QInfo{
			{SendTime: 0, EvalTime: 1},
			{SendTime: 1, EvalTime: 2},
		}

		Convey("receive times and eval times are computed per the return_value formula", func() {
			clock, _ := New(ReturnValue)
			maxRecv, err := UpdateCapital(clock, ReturnValue, qinfos)
			So(err, ShouldBeNil)
			So(qinfos[0].ReceiveTime, ShouldEqual, 1)
			So(qinfos[1].ReceiveTime, ShouldEqual, 3)
			So(qinfos[0].EvalTime, ShouldEqual, 1)
			So(qinfos[1].EvalTime, ShouldEqual, 2)
			So(maxRecv, ShouldEqual, 3)
		})
	})

	Convey("A negative eval_time is a fatal invalid-timing error", t, func() {
		qinfos := []*qinfo.QInfo{{SendTime: 5, EvalTime: -1}}
		clock, _ := New(ReturnValue)
		_, err := UpdateCapital(clock, ReturnValue, qinfos)
		So(err, ShouldNotBeNil)
		So(err, ShouldHaveSameTypeAs, &InvalidTimingError{})
	})
}
